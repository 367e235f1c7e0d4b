package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
)

// Health reports the persistence health of a Resilient store.
type Health string

const (
	HealthOK                  Health = "OK"
	HealthDegradedPersistence Health = "DEGRADED_PERSISTENCE"
)

// pendingOutcome is a learning event waiting for the backend to recover.
type pendingOutcome struct {
	target      schemas.TargetKey
	candidateID string
	outcome     schemas.Outcome
}

// Resilient decorates a Store so that a flaky backend never silently drops a
// learning event, which would bias every later selection. A failed write is
// retried with short backoff; if it still fails, the event is buffered in
// memory and replayed in front of the next write, and the store reports
// DEGRADED_PERSISTENCE until the buffer drains.
//
// While an event sits in the buffer its reward is still returned to the
// caller (computed from the reward table), so the calling action proceeds
// normally; only durability is deferred.
type Resilient struct {
	inner Store
	log   *zap.Logger

	retryBase     time.Duration
	retryAttempts uint64

	mu      sync.Mutex
	backlog []pendingOutcome
}

// NewResilient wraps inner. retryBase is the first backoff step (doubled per
// attempt); attempts is how many retries follow the initial try.
func NewResilient(inner Store, retryBase time.Duration, attempts uint64, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryBase <= 0 {
		retryBase = 50 * time.Millisecond
	}
	return &Resilient{
		inner:         inner,
		log:           logger.Named("resilient"),
		retryBase:     retryBase,
		retryAttempts: attempts,
	}
}

// Health reports whether any learning events are still waiting on the
// backend. Callers surface this to their observability layer.
func (r *Resilient) Health() Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.backlog) > 0 {
		return HealthDegradedPersistence
	}
	return HealthOK
}

// Backlog returns the number of buffered events.
func (r *Resilient) Backlog() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backlog)
}

// write attempts one outcome with backoff.
func (r *Resilient) write(ctx context.Context, ev pendingOutcome) (float64, error) {
	var reward float64
	backoff := retry.WithMaxRetries(r.retryAttempts, retry.NewExponential(r.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		reward, err = r.inner.RecordOutcome(ctx, ev.target, ev.candidateID, ev.outcome)
		if err != nil && !errors.Is(err, ErrUnknownOutcome) {
			return retry.RetryableError(err)
		}
		return err
	})
	return reward, err
}

// drainLocked replays buffered events until one fails again. Caller holds mu.
func (r *Resilient) drainLocked(ctx context.Context) {
	for len(r.backlog) > 0 {
		ev := r.backlog[0]
		if _, err := r.inner.RecordOutcome(ctx, ev.target, ev.candidateID, ev.outcome); err != nil {
			return
		}
		r.backlog = r.backlog[1:]
	}
	if len(r.backlog) == 0 {
		r.backlog = nil
	}
}

// RecordOutcome implements Store with the degraded-persistence contract.
func (r *Resilient) RecordOutcome(ctx context.Context, target schemas.TargetKey, candidateID string, outcome schemas.Outcome) (float64, error) {
	reward, ok := outcome.Reward()
	if !ok {
		// Programmer error; buffering it would just replay the bug later.
		return 0, ErrUnknownOutcome
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Older events must land first so per-candidate ordering is preserved.
	r.drainLocked(ctx)
	if len(r.backlog) > 0 {
		r.backlog = append(r.backlog, pendingOutcome{target, candidateID, outcome})
		r.log.Warn("Persistence still degraded; buffered learning event",
			zap.Stringer("target", target),
			zap.String("candidate", candidateID),
			zap.Int("backlog", len(r.backlog)))
		return reward, nil
	}

	got, err := r.write(ctx, pendingOutcome{target, candidateID, outcome})
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			return 0, err
		}
		r.backlog = append(r.backlog, pendingOutcome{target, candidateID, outcome})
		r.log.Warn("Persistence write failed; entering degraded mode",
			zap.Stringer("target", target),
			zap.String("candidate", candidateID),
			zap.Error(err))
		return reward, nil
	}
	return got, nil
}

// GetStats implements Store.
func (r *Resilient) GetStats(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.CandidateStats, bool, error) {
	return r.inner.GetStats(ctx, target, candidateID)
}

// GetBreaker implements Store.
func (r *Resilient) GetBreaker(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.BreakerRow, bool, error) {
	return r.inner.GetBreaker(ctx, target, candidateID)
}

// IsOpen implements Store.
func (r *Resilient) IsOpen(ctx context.Context, target schemas.TargetKey, candidateID string) (bool, error) {
	return r.inner.IsOpen(ctx, target, candidateID)
}

// ListCandidates implements Store.
func (r *Resilient) ListCandidates(ctx context.Context, target schemas.TargetKey) ([]string, error) {
	return r.inner.ListCandidates(ctx, target)
}

// ResetTarget implements Store. Buffered events for the target are dropped;
// a reset means the caller wants that history gone anyway.
func (r *Resilient) ResetTarget(ctx context.Context, target schemas.TargetKey) error {
	r.mu.Lock()
	kept := r.backlog[:0]
	for _, ev := range r.backlog {
		if ev.target != target {
			kept = append(kept, ev)
		}
	}
	r.backlog = kept
	r.mu.Unlock()
	return r.inner.ResetTarget(ctx, target)
}

// ResetAll implements Store.
func (r *Resilient) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	r.backlog = nil
	r.mu.Unlock()
	return r.inner.ResetAll(ctx)
}

// Close implements Store. A non-empty backlog at close time is reported
// loudly; those events are lost with the process.
func (r *Resilient) Close() error {
	r.mu.Lock()
	if n := len(r.backlog); n > 0 {
		r.log.Error("Closing with unpersisted learning events", zap.Int("count", n))
	}
	r.mu.Unlock()
	return r.inner.Close()
}
