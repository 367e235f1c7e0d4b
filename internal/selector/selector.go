// Package selector implements the bandit side of the engine: given a
// target's registered candidates and their learned state, pick the one most
// worth trying next. The policy is UCB1 over mean reward with a misclick
// penalty, plus two hard filters (open breakers, safety) applied before any
// scoring happens.
package selector

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/registry"
	"github.com/voidmaw/regrip/internal/store"
)

// Params tunes the scoring rule and the safety filter.
type Params struct {
	ExploreWeight   float64 // C in the UCB exploration bonus.
	MisclickPenalty float64 // Score penalty per unit of misclick rate.

	// Candidates at or past SafetyMinTrials whose misclick rate exceeds
	// SafetyMisclickRate are never auto-selected again, regardless of
	// breaker state: repeated wrong-element hits look irreversible.
	SafetyMinTrials    int
	SafetyMisclickRate float64
}

// Defaults returns the production scoring parameters.
func Defaults() Params {
	return Params{
		ExploreWeight:      1.0,
		MisclickPenalty:    0.5,
		SafetyMinTrials:    10,
		SafetyMisclickRate: 0.2,
	}
}

// Options control the per-call filters. The zero value disables both; use
// DefaultOptions for the normal path.
type Options struct {
	ExcludeOpen  bool
	SafetyFilter bool
}

// DefaultOptions enables both filters, which is what production callers want.
func DefaultOptions() Options {
	return Options{ExcludeOpen: true, SafetyFilter: true}
}

// Selector scores candidates against their learned state.
type Selector struct {
	reg    *registry.Registry
	store  store.Store
	params Params
	log    *zap.Logger
}

// New wires a selector over a registry and a store.
func New(reg *registry.Registry, st store.Store, params Params, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{reg: reg, store: st, params: params, log: logger.Named("selector")}
}

// SelectBest picks the most promising candidate with the default filters.
// The boolean is false when nothing viable remains, which callers must treat
// as "no viable path" for the action, not as an engine failure.
func (s *Selector) SelectBest(ctx context.Context, target schemas.TargetKey) (schemas.Candidate, bool, error) {
	return s.SelectBestWith(ctx, target, DefaultOptions())
}

// scored carries one surviving candidate through the scoring pass.
type scored struct {
	candidate schemas.Candidate
	stats     schemas.CandidateStats
	tried     bool
}

// SelectBestWith is SelectBest with explicit filter options.
func (s *Selector) SelectBestWith(ctx context.Context, target schemas.TargetKey, opts Options) (schemas.Candidate, bool, error) {
	candidates := s.reg.Candidates(target)
	if len(candidates) == 0 {
		return schemas.Candidate{}, false, nil
	}

	survivors := make([]scored, 0, len(candidates))
	totalTrials := 0
	for _, c := range candidates {
		if opts.ExcludeOpen {
			open, err := s.store.IsOpen(ctx, target, c.ID)
			if err != nil {
				return schemas.Candidate{}, false, fmt.Errorf("selector: breaker check for %s: %w", c.ID, err)
			}
			if open {
				continue
			}
		}

		stats, found, err := s.store.GetStats(ctx, target, c.ID)
		if err != nil {
			return schemas.Candidate{}, false, fmt.Errorf("selector: stats for %s: %w", c.ID, err)
		}

		if opts.SafetyFilter && found &&
			stats.Trials >= s.params.SafetyMinTrials &&
			stats.MisclickRate() > s.params.SafetyMisclickRate {
			s.log.Debug("Candidate excluded by safety filter",
				zap.Stringer("target", target),
				zap.String("candidate", c.ID),
				zap.Float64("misclick_rate", stats.MisclickRate()))
			continue
		}

		survivors = append(survivors, scored{candidate: c, stats: stats, tried: found && stats.Trials >= 1})
		totalTrials += stats.Trials
	}
	if len(survivors) == 0 {
		return schemas.Candidate{}, false, nil
	}

	// Untried candidates are forced exploration: the first one in
	// registration order wins outright. The registry slice is already in
	// registration order, so scanning it front to back is the deterministic
	// tie-break (registration order, then effectively candidate ID, since
	// duplicate IDs cannot be registered).
	for _, sc := range survivors {
		if !sc.tried {
			return sc.candidate, true, nil
		}
	}

	n := float64(totalTrials)
	if n < 1 {
		n = 1
	}

	best := survivors[0]
	bestScore := s.score(best.stats, n)
	for _, sc := range survivors[1:] {
		// Strictly-greater keeps the earliest registration on ties.
		if score := s.score(sc.stats, n); score > bestScore {
			best, bestScore = sc, score
		}
	}
	return best.candidate, true, nil
}

// score is the UCB1 value of one tried candidate given N total trials.
func (s *Selector) score(stats schemas.CandidateStats, n float64) float64 {
	trials := float64(stats.Trials)
	explore := s.params.ExploreWeight * math.Sqrt(math.Log(n)/trials)
	return stats.MeanReward() + explore - s.params.MisclickPenalty*stats.MisclickRate()
}

// EscalateLayer decides whether the caller should move to a farther
// automation layer. It returns false ("stay") while any candidate on the
// current layer is not quarantined. When the whole layer is dark it returns
// the nearest farther layer that has any registered candidate at all; the
// breaker state of those candidates is deliberately ignored, because needing
// to escalate is itself evidence the situation changed.
func (s *Selector) EscalateLayer(ctx context.Context, target schemas.TargetKey, current schemas.Layer) (schemas.Layer, bool, error) {
	for _, c := range s.reg.Candidates(target) {
		if c.Layer != current {
			continue
		}
		open, err := s.store.IsOpen(ctx, target, c.ID)
		if err != nil {
			return 0, false, fmt.Errorf("selector: breaker check for %s: %w", c.ID, err)
		}
		if !open {
			return 0, false, nil
		}
	}

	for _, layer := range schemas.Layers() {
		if layer <= current {
			continue
		}
		if s.reg.HasLayer(target, layer) {
			s.log.Info("Escalating automation layer",
				zap.Stringer("target", target),
				zap.Stringer("from", current),
				zap.Stringer("to", layer))
			return layer, true, nil
		}
	}
	return 0, false, nil
}
