package recovery

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
)

// Params are the planner tuning knobs. Start from Defaults() and override
// from config.
type Params struct {
	MaxRetries int           // Retries granted to one transient symptom before it enters the ladder.
	RetryBase  time.Duration // First retry backoff; grows linearly with the retry count.
}

// Defaults returns the retry policy used in production.
func Defaults() Params {
	return Params{
		MaxRetries: 2,
		RetryBase:  500 * time.Millisecond,
	}
}

// Planner walks the escalation ladder for one logical run. It is stateful
// and deliberately not safe to share across concurrently-running tasks: the
// escalation level only makes sense within a single run's failure history.
// Construct one per run (see engine.NewPlanner) and call Reset between runs
// if an instance is reused.
type Planner struct {
	runID  string
	params Params
	log    *zap.Logger

	escalation int
	history    []schemas.RecoveryDecision
}

// NewPlanner creates a planner for one logical run.
func NewPlanner(runID string, params Params, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.RetryBase <= 0 {
		params.RetryBase = Defaults().RetryBase
	}
	return &Planner{
		runID:  runID,
		params: params,
		log:    logger.Named("planner").With(zap.String("run_id", runID)),
	}
}

// RunID identifies the logical run this planner belongs to.
func (p *Planner) RunID() string { return p.runID }

// EscalationLevel exposes the current ladder position, mostly for tests and
// journaling.
func (p *Planner) EscalationLevel() int { return p.escalation }

// History returns the decisions made so far in this run.
func (p *Planner) History() []schemas.RecoveryDecision {
	out := make([]schemas.RecoveryDecision, len(p.history))
	copy(out, p.history)
	return out
}

// Reset clears the escalation level and history. Call once per logical run
// when reusing an instance.
func (p *Planner) Reset() {
	p.escalation = 0
	p.history = nil
}

// ladder maps an escalation level to its action. Levels past the ladder end
// abort: by then the run has burned a candidate switch, an action switch, an
// environment reset, and a broadened search.
func ladder(level int) schemas.RecoveryAction {
	switch level {
	case 1:
		return schemas.ActionSwitchCandidate
	case 2:
		return schemas.ActionSwitchAction
	case 3:
		return schemas.ActionResetEnvironment
	case 4:
		return schemas.ActionBroadenSearch
	default:
		return schemas.ActionAbort
	}
}

// Decide returns the next recovery move for one failure event.
func (p *Planner) Decide(event schemas.FailureEvent) schemas.RecoveryDecision {
	class := event.Class
	if class == "" {
		class = Classify(event.Symptom)
	}

	var decision schemas.RecoveryDecision
	switch class {
	case schemas.ClassFatal:
		decision = schemas.RecoveryDecision{
			Action: schemas.ActionAbort,
			Reason: fmt.Sprintf("fatal failure: %s", event.Symptom),
		}

	case schemas.ClassAntiBot:
		// Never auto-retried: hammering an active bot check tends to turn a
		// soft block into a hard one.
		decision = schemas.RecoveryDecision{
			Action: schemas.ActionHumanHandoff,
			Reason: fmt.Sprintf("anti-bot measure detected: %s", event.Symptom),
		}

	case schemas.ClassPolicyGate:
		action := schemas.ActionSwitchAction
		if isSessionGate(event.Symptom) {
			action = schemas.ActionResetEnvironment
		}
		decision = schemas.RecoveryDecision{
			Action: action,
			Reason: fmt.Sprintf("policy gate in the way: %s", event.Symptom),
		}

	case schemas.ClassTransient:
		if event.RetryCount < p.params.MaxRetries {
			backoff := p.params.RetryBase * time.Duration(event.RetryCount+1)
			decision = schemas.RecoveryDecision{
				Action: schemas.ActionRetrySame,
				Reason: fmt.Sprintf("transient failure, retry %d of %d", event.RetryCount+1, p.params.MaxRetries),
				Detail: map[string]string{
					"backoff_ms": strconv.FormatInt(backoff.Milliseconds(), 10),
				},
			}
			break
		}
		// Retries are spent; this symptom now behaves like a deterministic
		// failure and enters the ladder.
		p.escalation++
		decision = schemas.RecoveryDecision{
			Action: ladder(p.escalation),
			Reason: fmt.Sprintf("transient retries exhausted after %d attempts: %s", event.RetryCount, event.Symptom),
		}

	default: // DETERMINISTIC, including anything unclassified.
		p.escalation++
		decision = schemas.RecoveryDecision{
			Action: ladder(p.escalation),
			Reason: fmt.Sprintf("deterministic failure at escalation level %d: %s", p.escalation, event.Symptom),
		}
	}

	p.history = append(p.history, decision)
	p.log.Debug("Recovery decision",
		zap.String("symptom", event.Symptom),
		zap.String("class", string(class)),
		zap.String("action", string(decision.Action)),
		zap.Int("escalation", p.escalation))
	return decision
}
