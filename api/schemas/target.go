package schemas

import (
	"fmt"
	"strings"
)

// -- Target Identity --

// TargetKey identifies one logical UI target: "the send button on the compose
// screen", regardless of how it is actually addressed. All candidates
// registered under the same key are interchangeable ways of reaching that
// target and compete with each other in the selector.
//
// Only equality matters; the composite exists so that the same intent on two
// different screens never shares learned statistics.
type TargetKey struct {
	Screen string `json:"screen"` // Stable identity of the screen or page (e.g. "compose_view").
	Intent string `json:"intent"` // What the caller wants to do (e.g. "send_message").
	Role   string `json:"role"`   // The element role involved (e.g. "button").
}

// NewTargetKey builds a TargetKey from its three components.
func NewTargetKey(screen, intent, role string) TargetKey {
	return TargetKey{Screen: screen, Intent: intent, Role: role}
}

// String returns the stable form used as a persistence key prefix. The
// separator is not allowed inside components; ParseTargetKey depends on it.
func (k TargetKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Screen, k.Intent, k.Role)
}

// ParseTargetKey is the inverse of String. It exists for the CLI, which
// accepts targets as "screen/intent/role" strings.
func ParseTargetKey(s string) (TargetKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TargetKey{}, fmt.Errorf("invalid target key %q: want screen/intent/role", s)
	}
	return TargetKey{Screen: parts[0], Intent: parts[1], Role: parts[2]}, nil
}
