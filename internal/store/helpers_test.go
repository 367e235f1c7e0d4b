package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/breaker"
)

// fakeClock is a hand-cranked clock so breaker cooldowns can be crossed
// without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testTarget = schemas.NewTargetKey("compose_view", "send_message", "button")

// runStoreSuite exercises the Store contract shared by every backend.
func runStoreSuite(t *testing.T, open func(t *testing.T, clock *fakeClock) Store) {
	t.Helper()
	params := breaker.Defaults()
	ctx := context.Background()

	t.Run("rows are created lazily on first outcome", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		_, found, err := s.GetStats(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.False(t, found)

		reward, err := s.RecordOutcome(ctx, testTarget, "css-send", schemas.OutcomeSuccess)
		require.NoError(t, err)
		assert.Equal(t, 1.0, reward)

		stats, found, err := s.GetStats(ctx, testTarget, "css-send")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 1, stats.Trials)
		assert.Equal(t, 1.0, stats.RewardSum)
		assert.Equal(t, clock.Now(), stats.LastSeen.UTC())
	})

	t.Run("failure counters track their outcome kinds", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		for _, o := range []schemas.Outcome{
			schemas.OutcomeMisclick, schemas.OutcomeTimeout,
			schemas.OutcomeNotFound, schemas.OutcomeStateMismatch, schemas.OutcomeSuccess,
		} {
			_, err := s.RecordOutcome(ctx, testTarget, "xp-send", o)
			require.NoError(t, err)
		}

		stats, found, err := s.GetStats(ctx, testTarget, "xp-send")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 5, stats.Trials)
		assert.Equal(t, 1, stats.Misclicks)
		assert.Equal(t, 1, stats.Timeouts)
		assert.Equal(t, 1, stats.NotFound)
		// state_mismatch counts as a trial but has no dedicated counter.
		assert.InDelta(t, -1.0-0.4-0.6-1.0+1.0, stats.RewardSum, 1e-9)
	})

	t.Run("trials only ever increase", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		last := 0
		for i := 0; i < 10; i++ {
			_, err := s.RecordOutcome(ctx, testTarget, "ax-send", schemas.OutcomeTimeout)
			require.NoError(t, err)
			stats, _, err := s.GetStats(ctx, testTarget, "ax-send")
			require.NoError(t, err)
			assert.Greater(t, stats.Trials, last)
			last = stats.Trials
		}
	})

	t.Run("unknown outcomes fail fast without touching rows", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		_, err := s.RecordOutcome(ctx, testTarget, "css-send", schemas.Outcome("wat"))
		require.ErrorIs(t, err, ErrUnknownOutcome)

		_, found, err := s.GetStats(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("breaker opens after consecutive misclicks and cools down", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		for i := 0; i < params.MinSamples; i++ {
			_, err := s.RecordOutcome(ctx, testTarget, "css-send", schemas.OutcomeMisclick)
			require.NoError(t, err)
		}

		open, err := s.IsOpen(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.True(t, open)

		// Still open just before the deadline.
		clock.Advance(params.Cooldown - time.Second)
		open, err = s.IsOpen(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.True(t, open)

		// The first check past the deadline flips to HALF_OPEN.
		clock.Advance(2 * time.Second)
		open, err = s.IsOpen(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.False(t, open)

		row, found, err := s.GetBreaker(ctx, testTarget, "css-send")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, schemas.BreakerHalfOpen, row.Phase)

		// A single success while half-open closes and resets the estimate.
		_, err = s.RecordOutcome(ctx, testTarget, "css-send", schemas.OutcomeSuccess)
		require.NoError(t, err)
		row, _, err = s.GetBreaker(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.Equal(t, schemas.BreakerClosed, row.Phase)
		assert.Zero(t, row.EMAFail)
		assert.Zero(t, row.Attempts)
	})

	t.Run("is open is false for never-seen candidates", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		open, err := s.IsOpen(ctx, testTarget, "ghost")
		require.NoError(t, err)
		assert.False(t, open)
	})

	t.Run("reset target drops both logical rows", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		_, err := s.RecordOutcome(ctx, testTarget, "css-send", schemas.OutcomeMisclick)
		require.NoError(t, err)
		require.NoError(t, s.ResetTarget(ctx, testTarget))

		_, found, err := s.GetStats(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.False(t, found)
		_, found, err = s.GetBreaker(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("list candidates reflects recorded pairs", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		for _, id := range []string{"b-cand", "a-cand"} {
			_, err := s.RecordOutcome(ctx, testTarget, id, schemas.OutcomeSuccess)
			require.NoError(t, err)
		}
		ids, err := s.ListCandidates(ctx, testTarget)
		require.NoError(t, err)
		assert.Equal(t, []string{"a-cand", "b-cand"}, ids)
	})

	t.Run("concurrent reporters never tear the stats-breaker pair", func(t *testing.T) {
		clock := newFakeClock()
		s := open(t, clock)

		const workers = 8
		const perWorker = 25
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					// Ignore transient commit conflicts; retried by loop.
					for {
						if _, err := s.RecordOutcome(ctx, testTarget, "css-send", schemas.OutcomeSuccess); err == nil {
							break
						}
					}
				}
			}()
		}
		wg.Wait()

		stats, _, err := s.GetStats(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.Equal(t, workers*perWorker, stats.Trials)
		row, _, err := s.GetBreaker(ctx, testTarget, "css-send")
		require.NoError(t, err)
		assert.Equal(t, workers*perWorker, row.Attempts, "attempts must match trials when nothing reset")
	})
}
