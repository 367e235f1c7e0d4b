package schemas

// -- Failure Classification --

// FailureClass buckets a failure symptom by what kind of response it
// warrants. Classification happens once per failure event; the recovery
// planner's ladder is keyed entirely off this class.
type FailureClass string

const (
	ClassTransient     FailureClass = "TRANSIENT"     // Flaky; worth a bounded retry.
	ClassDeterministic FailureClass = "DETERMINISTIC" // Will keep failing the same way; escalate instead of retrying.
	ClassPolicyGate    FailureClass = "POLICY_GATE"   // An unexpected login/consent/paywall gate is in the way.
	ClassAntiBot       FailureClass = "ANTI_BOT"      // Active bot detection; never auto-retry.
	ClassFatal         FailureClass = "FATAL"         // Environment is unusable; abort the run.
)

// -- Recovery Decisions --

// RecoveryAction is the closed set of next moves the planner can hand back
// to the caller, ordered roughly by how disruptive they are.
type RecoveryAction string

const (
	ActionRetrySame        RecoveryAction = "RETRY_SAME"
	ActionSwitchCandidate  RecoveryAction = "SWITCH_CANDIDATE"
	ActionSwitchAction     RecoveryAction = "SWITCH_ACTION"
	ActionResetEnvironment RecoveryAction = "RESET_ENVIRONMENT"
	ActionBroadenSearch    RecoveryAction = "BROADEN_SEARCH"
	ActionHumanHandoff     RecoveryAction = "HUMAN_HANDOFF"
	ActionAbort            RecoveryAction = "ABORT"
)

// RecoveryDecision is the planner's answer to one failure event. Detail
// carries action-specific hints (e.g. the retry backoff) as strings so the
// decision can be journaled as-is.
type RecoveryDecision struct {
	Action RecoveryAction    `json:"action"`
	Reason string            `json:"reason"`
	Detail map[string]string `json:"detail,omitempty"`
}

// FailureEvent describes one failure of one logical run, as reported by the
// caller. RetryCount is the number of retries already spent on this exact
// symptom, not a global counter.
type FailureEvent struct {
	Class      FailureClass `json:"class"`
	Symptom    string       `json:"symptom"`
	RetryCount int          `json:"retry_count"`
}
