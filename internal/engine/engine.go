// Package engine assembles the reliability engine behind one facade: the
// candidate registry, the learned-state store, the bandit selector, and the
// per-run recovery planners. The execution layer talks to this package only;
// it never sees which store backend is wired underneath.
package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/recovery"
	"github.com/voidmaw/regrip/internal/registry"
	"github.com/voidmaw/regrip/internal/selector"
	"github.com/voidmaw/regrip/internal/store"
)

// Engine is the public surface of the reliability engine. One instance
// serves all targets and all concurrent workers; only planners are per-run.
type Engine struct {
	log      *zap.Logger
	reg      *registry.Registry
	store    store.Store
	sel      *selector.Selector
	recovery recovery.Params
}

// New wires an engine over a store. Parameters usually come from config;
// pass selector.Defaults() and recovery.Defaults() when in doubt.
func New(st store.Store, selParams selector.Params, recParams recovery.Params, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := registry.New()
	return &Engine{
		log:      logger.Named("engine"),
		reg:      reg,
		store:    st,
		sel:      selector.New(reg, st, selParams, logger),
		recovery: recParams,
	}
}

// RegisterCandidates declares the known ways to address a target. Called at
// startup by the execution layer; idempotent per candidate ID.
func (e *Engine) RegisterCandidates(target schemas.TargetKey, candidates []schemas.Candidate) error {
	return e.reg.RegisterAll(target, candidates)
}

// SelectBest returns the candidate most worth trying, or false when nothing
// viable remains for the target.
func (e *Engine) SelectBest(ctx context.Context, target schemas.TargetKey) (schemas.Candidate, bool, error) {
	return e.sel.SelectBest(ctx, target)
}

// SelectBestWith is SelectBest with explicit filter options.
func (e *Engine) SelectBestWith(ctx context.Context, target schemas.TargetKey, opts selector.Options) (schemas.Candidate, bool, error) {
	return e.sel.SelectBestWith(ctx, target, opts)
}

// ReportOutcome feeds one attempt result back into the learned state and
// returns the reward credited.
func (e *Engine) ReportOutcome(ctx context.Context, target schemas.TargetKey, candidateID string, outcome schemas.Outcome) (float64, error) {
	reward, err := e.store.RecordOutcome(ctx, target, candidateID, outcome)
	if err != nil {
		return 0, err
	}
	e.log.Debug("Outcome recorded",
		zap.Stringer("target", target),
		zap.String("candidate", candidateID),
		zap.String("outcome", string(outcome)),
		zap.Float64("reward", reward))
	return reward, nil
}

// IsOpen reports whether a candidate is currently quarantined.
func (e *Engine) IsOpen(ctx context.Context, target schemas.TargetKey, candidateID string) (bool, error) {
	return e.store.IsOpen(ctx, target, candidateID)
}

// GetStats exposes the learned stats row for inspection.
func (e *Engine) GetStats(ctx context.Context, target schemas.TargetKey, candidateID string) (schemas.CandidateStats, bool, error) {
	return e.store.GetStats(ctx, target, candidateID)
}

// EscalateLayer decides whether to move to a farther automation layer.
func (e *Engine) EscalateLayer(ctx context.Context, target schemas.TargetKey, current schemas.Layer) (schemas.Layer, bool, error) {
	return e.sel.EscalateLayer(ctx, target, current)
}

// Classify maps a failure symptom onto a failure class.
func (e *Engine) Classify(symptom string) schemas.FailureClass {
	return recovery.Classify(symptom)
}

// NewPlanner creates the recovery planner for one logical run. Each
// concurrently executing task needs its own; sharing one would corrupt the
// escalation-level semantics.
func (e *Engine) NewPlanner() *recovery.Planner {
	return recovery.NewPlanner(uuid.NewString(), e.recovery, e.log)
}

// ResetTarget drops learned state for one target. Test/ops surface.
func (e *Engine) ResetTarget(ctx context.Context, target schemas.TargetKey) error {
	return e.store.ResetTarget(ctx, target)
}

// ResetAll drops all learned state. Test/ops surface.
func (e *Engine) ResetAll(ctx context.Context) error {
	return e.store.ResetAll(ctx)
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}
