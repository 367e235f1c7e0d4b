// Package recovery turns failure symptoms into failure classes and failure
// classes into the next recovery move. Classification is a fixed keyword
// vocabulary rather than anything learned: this part of the engine must be
// auditable, and a symptom must classify the same way every time.
package recovery

import (
	"strings"

	"github.com/voidmaw/regrip/api/schemas"
)

// The five vocabularies, checked in priority order. A symptom that matches
// nothing is DETERMINISTIC: treating an unknown failure as repeatable makes
// the planner escalate instead of blindly retrying, which is the safer bias.
var (
	fatalKeywords = []string{
		"browser_crashed", "driver_crashed", "session_dead", "target_closed",
		"out_of_memory", "display_lost", "panic",
	}
	antiBotKeywords = []string{
		"captcha", "recaptcha", "hcaptcha", "cloudflare", "bot_detected",
		"bot_check", "challenge", "unusual_traffic", "automation_blocked",
	}
	policyGateKeywords = []string{
		"login", "signin", "sign_in", "logged_out", "session_expired",
		"consent", "cookie_banner", "paywall", "permission_prompt", "two_factor",
	}
	deterministicKeywords = []string{
		"not_found", "no_such_element", "stale", "detached", "disabled",
		"obscured", "wrong_element", "misclick", "state_mismatch", "zero_size",
	}
	transientKeywords = []string{
		"timeout", "timed_out", "slow", "loading", "spinner", "network",
		"connection_reset", "busy", "flaky", "temporar",
	}
)

// sessionGateKeywords is the subset of policy gates that a fresh environment
// (new session, re-login flow) clears, as opposed to gates that a different
// action (dismiss, accept) clears. Used by the planner, kept next to the
// classifier vocabularies so all symptom tables live in one place.
var sessionGateKeywords = []string{
	"login", "signin", "sign_in", "logged_out", "session_expired", "two_factor",
}

func matchesAny(symptom string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(symptom, kw) {
			return true
		}
	}
	return false
}

// Classify maps a free-text symptom onto a failure class. It never fails:
// unmatched input falls back to DETERMINISTIC.
func Classify(symptom string) schemas.FailureClass {
	s := strings.ToLower(strings.TrimSpace(symptom))
	switch {
	case matchesAny(s, fatalKeywords):
		return schemas.ClassFatal
	case matchesAny(s, antiBotKeywords):
		return schemas.ClassAntiBot
	case matchesAny(s, policyGateKeywords):
		return schemas.ClassPolicyGate
	case matchesAny(s, deterministicKeywords):
		return schemas.ClassDeterministic
	case matchesAny(s, transientKeywords):
		return schemas.ClassTransient
	default:
		return schemas.ClassDeterministic
	}
}

// isSessionGate reports whether a policy-gate symptom needs an environment
// reset rather than an alternate action.
func isSessionGate(symptom string) bool {
	return matchesAny(strings.ToLower(symptom), sessionGateKeywords)
}
