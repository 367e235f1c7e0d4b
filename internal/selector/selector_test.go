package selector

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/breaker"
	"github.com/voidmaw/regrip/internal/registry"
	"github.com/voidmaw/regrip/internal/store"
)

var target = schemas.NewTargetKey("compose_view", "send_message", "button")

type fixture struct {
	reg      *registry.Registry
	store    store.Store
	selector *Selector
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg: registry.New(),
		now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	f.store = store.NewMemory(breaker.Defaults(), func() time.Time { return f.now })
	f.selector = New(f.reg, f.store, Defaults(), zap.NewNop())
	return f
}

func (f *fixture) register(t *testing.T, id string, layer schemas.Layer) {
	t.Helper()
	require.NoError(t, f.reg.Register(target, schemas.Candidate{
		ID: id, Layer: layer, SelectorKind: schemas.SelectorCSS, SelectorValue: "#" + id,
	}))
}

func (f *fixture) report(t *testing.T, id string, outcomes ...schemas.Outcome) {
	t.Helper()
	for _, o := range outcomes {
		_, err := f.store.RecordOutcome(context.Background(), target, id, o)
		require.NoError(t, err)
	}
}

func TestSelectBestOnUnknownTarget(t *testing.T) {
	f := newFixture(t)
	_, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUntriedCandidateAlwaysWins(t *testing.T) {
	f := newFixture(t)
	f.register(t, "veteran", schemas.LayerDOM)
	f.register(t, "rookie", schemas.LayerDOM)

	// The veteran has a perfect record; the rookie must still be explored.
	f.report(t, "veteran", schemas.OutcomeSuccess, schemas.OutcomeSuccess, schemas.OutcomeSuccess)

	got, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rookie", got.ID)
}

func TestUntriedTieBreaksByRegistrationOrder(t *testing.T) {
	f := newFixture(t)
	f.register(t, "zeta", schemas.LayerDOM)
	f.register(t, "alpha", schemas.LayerDOM)

	got, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "zeta", got.ID, "registration order, not ID order, breaks untried ties")
}

func TestScoreMatchesTheStatedFormula(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a", schemas.LayerDOM)
	f.register(t, "b", schemas.LayerDOM)
	f.report(t, "a", schemas.OutcomeTimeout)
	f.report(t, "b", schemas.OutcomeSuccess)

	// N = 2; both have one trial.
	explore := 1.0 * math.Sqrt(math.Ln2/1)
	scoreA := -0.4 + explore
	scoreB := 1.0 + explore
	require.Greater(t, scoreB, scoreA)

	got, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	// Cross-check the exact arithmetic the selector uses.
	statsA, _, err := f.store.GetStats(context.Background(), target, "a")
	require.NoError(t, err)
	assert.InDelta(t, scoreA, f.selector.score(statsA, 2), 1e-9)
}

func TestHigherMisclickRateScoresStrictlyLower(t *testing.T) {
	f := newFixture(t)
	f.register(t, "clicky", schemas.LayerDOM)
	f.register(t, "steady", schemas.LayerDOM)

	// Both end at mean reward 0 over 2 trials; only the misclick counts differ.
	f.report(t, "clicky", schemas.OutcomeMisclick, schemas.OutcomeSuccess)
	f.report(t, "steady", schemas.OutcomeStateMismatch, schemas.OutcomeSuccess)

	got, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "steady", got.ID)

	statsClicky, _, _ := f.store.GetStats(context.Background(), target, "clicky")
	statsSteady, _, _ := f.store.GetStats(context.Background(), target, "steady")
	assert.Less(t, f.selector.score(statsClicky, 4), f.selector.score(statsSteady, 4))
}

func TestEqualScoresKeepEarliestRegistration(t *testing.T) {
	f := newFixture(t)
	f.register(t, "first", schemas.LayerDOM)
	f.register(t, "second", schemas.LayerDOM)
	f.report(t, "first", schemas.OutcomeSuccess)
	f.report(t, "second", schemas.OutcomeSuccess)

	got, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.ID)
}

func TestOpenBreakersAreExcluded(t *testing.T) {
	f := newFixture(t)
	f.register(t, "broken", schemas.LayerDOM)
	f.register(t, "spare", schemas.LayerDOM)

	// Trip "broken" wide open, then give "spare" a mediocre history so it
	// would lose a straight score comparison against broken's early record.
	f.report(t, "broken",
		schemas.OutcomeMisclick, schemas.OutcomeMisclick, schemas.OutcomeMisclick,
		schemas.OutcomeMisclick, schemas.OutcomeMisclick)
	f.report(t, "spare", schemas.OutcomeTimeout)

	got, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "spare", got.ID, "an open candidate must never be returned")

	t.Run("excludeOpen off readmits the quarantined candidate", func(t *testing.T) {
		_, ok, err := f.selector.SelectBestWith(context.Background(), target, Options{ExcludeOpen: false, SafetyFilter: true})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSafetyFilterDropsHabitualMisclickers(t *testing.T) {
	f := newFixture(t)
	f.register(t, "sloppy", schemas.LayerDOM)
	f.register(t, "other", schemas.LayerDOM)

	// 3 misclicks in 12 trials: 25% misclick rate, but enough successes to
	// keep the breaker closed and the mean respectable.
	f.report(t, "sloppy",
		schemas.OutcomeSuccess, schemas.OutcomeSuccess, schemas.OutcomeSuccess,
		schemas.OutcomeMisclick, schemas.OutcomeSuccess, schemas.OutcomeSuccess,
		schemas.OutcomeMisclick, schemas.OutcomeSuccess, schemas.OutcomeSuccess,
		schemas.OutcomeMisclick, schemas.OutcomeSuccess, schemas.OutcomeSuccess)
	f.report(t, "other", schemas.OutcomeTimeout, schemas.OutcomeTimeout)

	open, err := f.store.IsOpen(context.Background(), target, "sloppy")
	require.NoError(t, err)
	require.False(t, open, "test setup: breaker must be closed so only the safety filter applies")

	got, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "other", got.ID)

	t.Run("safety filter off readmits it", func(t *testing.T) {
		got, ok, err := f.selector.SelectBestWith(context.Background(), target, Options{ExcludeOpen: true, SafetyFilter: false})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "sloppy", got.ID)
	})
}

func TestNoViableCandidateIsAbsentNotError(t *testing.T) {
	f := newFixture(t)
	f.register(t, "only", schemas.LayerDOM)
	f.report(t, "only",
		schemas.OutcomeMisclick, schemas.OutcomeMisclick, schemas.OutcomeMisclick,
		schemas.OutcomeMisclick, schemas.OutcomeMisclick)

	_, ok, err := f.selector.SelectBest(context.Background(), target)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEscalateLayer(t *testing.T) {
	open5 := []schemas.Outcome{
		schemas.OutcomeMisclick, schemas.OutcomeMisclick, schemas.OutcomeMisclick,
		schemas.OutcomeMisclick, schemas.OutcomeMisclick,
	}

	t.Run("stays while any current-layer candidate is not open", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "dom-a", schemas.LayerDOM)
		f.register(t, "dom-b", schemas.LayerDOM)
		f.register(t, "vis", schemas.LayerVision)
		f.report(t, "dom-a", open5...)

		_, ok, err := f.selector.EscalateLayer(context.Background(), target, schemas.LayerDOM)
		require.NoError(t, err)
		assert.False(t, ok, "dom-b is still closed, so stay on the layer")
	})

	t.Run("skips empty layers to the first populated one", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "dom-a", schemas.LayerDOM)
		f.register(t, "vis", schemas.LayerVision)
		f.report(t, "dom-a", open5...)

		next, ok, err := f.selector.EscalateLayer(context.Background(), target, schemas.LayerDOM)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, schemas.LayerVision, next)
	})

	t.Run("open candidates on farther layers still count", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "dom-a", schemas.LayerDOM)
		f.register(t, "ax", schemas.LayerAccessibility)
		f.report(t, "dom-a", open5...)
		f.report(t, "ax", open5...)

		next, ok, err := f.selector.EscalateLayer(context.Background(), target, schemas.LayerDOM)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, schemas.LayerAccessibility, next, "a dormant open candidate may be worth one more try after escalation")
	})

	t.Run("exhausted when no farther layer has candidates", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "vis", schemas.LayerVision)
		f.report(t, "vis", open5...)

		_, ok, err := f.selector.EscalateLayer(context.Background(), target, schemas.LayerVision)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
