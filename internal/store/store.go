// Package store persists the engine's learned state: one stats row and one
// breaker row per (target, candidate) pair, always written together. Three
// backends share the exact same mutation logic; the interface exists so the
// selector never knows which one it is talking to.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/breaker"
)

// ErrUnknownOutcome is returned when an outcome outside the closed set is
// reported. This is a programmer error on the caller's side and is never
// coerced into a default.
var ErrUnknownOutcome = errors.New("store: outcome is not one of the defined kinds")

// Clock supplies the current time. Injected so tests can cross breaker
// cooldowns without sleeping.
type Clock func() time.Time

// Store is the fused stats+breaker persistence surface. Every implementation
// guarantees that RecordOutcome updates both rows atomically: a stats update
// without its paired breaker update would bias every later selection.
type Store interface {
	// RecordOutcome folds one attempt result into the pair's rows and
	// returns the reward credited. Creates the rows on first sight.
	RecordOutcome(ctx context.Context, target schemas.TargetKey, candidateID string, outcome schemas.Outcome) (float64, error)

	// GetStats is a pure read. The second return is false if the pair has
	// never been seen.
	GetStats(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.CandidateStats, bool, error)

	// GetBreaker returns the breaker row with the lazy OPEN->HALF_OPEN
	// refresh applied to the returned view.
	GetBreaker(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.BreakerRow, bool, error)

	// IsOpen reports whether the pair is currently quarantined. An elapsed
	// cooldown flips the stored phase to HALF_OPEN as a side effect and
	// reports false; half-open candidates are eligible to be probed.
	IsOpen(ctx context.Context, target schemas.TargetKey, candidateID string) (bool, error)

	// ListCandidates returns the candidate IDs with recorded state for a
	// target, for ops inspection.
	ListCandidates(ctx context.Context, target schemas.TargetKey) ([]string, error)

	// ResetTarget and ResetAll drop learned state. Test/ops surface only.
	ResetTarget(ctx context.Context, target schemas.TargetKey) error
	ResetAll(ctx context.Context) error

	Close() error
}

// applyOutcome is the single mutation path shared by every backend. It
// mutates both rows in place; the backend commits them in one transaction.
func applyOutcome(stats *schemas.CandidateStats, row *schemas.BreakerRow, outcome schemas.Outcome, params breaker.Params, now time.Time) (float64, error) {
	reward, ok := outcome.Reward()
	if !ok {
		return 0, ErrUnknownOutcome
	}

	stats.Trials++
	stats.RewardSum += reward
	stats.LastSeen = now
	switch outcome {
	case schemas.OutcomeMisclick:
		stats.Misclicks++
	case schemas.OutcomeTimeout:
		stats.Timeouts++
	case schemas.OutcomeNotFound:
		stats.NotFound++
	}

	params.Apply(row, outcome, now)
	return reward, nil
}
