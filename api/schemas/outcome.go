package schemas

import "fmt"

// -- Outcomes --

// Outcome is the closed set of results the execution layer can report back
// for a single attempt. There are deliberately no free-text outcomes; an
// unrecognized value is a programmer error and is rejected loudly rather
// than coerced (see Reward).
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"        // The action landed on the intended element.
	OutcomeMisclick      Outcome = "misclick"       // The action executed but hit the wrong element.
	OutcomeNotFound      Outcome = "not_found"      // The candidate's selector matched nothing.
	OutcomeTimeout       Outcome = "timeout"        // The driver gave up waiting.
	OutcomeStateMismatch Outcome = "state_mismatch" // The screen was not in the expected state.
)

// rewards is the fixed reward table. A misclick is scored as harshly as a
// state mismatch because both can corrupt application state; a clean
// not-found or timeout is cheaper since nothing was touched.
var rewards = map[Outcome]float64{
	OutcomeSuccess:       1.0,
	OutcomeMisclick:      -1.0,
	OutcomeNotFound:      -0.6,
	OutcomeTimeout:       -0.4,
	OutcomeStateMismatch: -1.0,
}

// Valid reports whether o is one of the five defined outcomes.
func (o Outcome) Valid() bool {
	_, ok := rewards[o]
	return ok
}

// Reward returns the reward credited for this outcome.
// The second return is false for unknown outcomes.
func (o Outcome) Reward() (float64, bool) {
	r, ok := rewards[o]
	return r, ok
}

// ParseOutcome converts a wire string into an Outcome, rejecting anything
// outside the closed set.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown outcome %q", s)
	}
	return o, nil
}
