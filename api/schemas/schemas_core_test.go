package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetKeyStringRoundTrip(t *testing.T) {
	key := NewTargetKey("compose_view", "send_message", "button")
	assert.Equal(t, "compose_view/send_message/button", key.String())

	parsed, err := ParseTargetKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestParseTargetKeyRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "a/b", "a/b/c/d", "//", "a//c"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseTargetKey(input)
			assert.Error(t, err)
		})
	}
}

func TestOutcomeRewardTable(t *testing.T) {
	cases := map[Outcome]float64{
		OutcomeSuccess:       1.0,
		OutcomeMisclick:      -1.0,
		OutcomeNotFound:      -0.6,
		OutcomeTimeout:       -0.4,
		OutcomeStateMismatch: -1.0,
	}
	for outcome, want := range cases {
		reward, ok := outcome.Reward()
		require.True(t, ok, "outcome %s should be known", outcome)
		assert.Equal(t, want, reward)
	}
}

func TestOutcomeClosedSet(t *testing.T) {
	_, err := ParseOutcome("clicked_somewhere")
	assert.Error(t, err, "outcomes outside the closed set must be rejected")

	_, ok := Outcome("oops").Reward()
	assert.False(t, ok)
}

func TestLayerOrderingIsNearToFar(t *testing.T) {
	layers := Layers()
	require.Len(t, layers, 4)
	for i := 1; i < len(layers); i++ {
		assert.Greater(t, int(layers[i]), int(layers[i-1]),
			"layers must be ordered near to far")
	}
	assert.Equal(t, LayerDOM, layers[0])
	assert.Equal(t, LayerVision, layers[len(layers)-1])
}

func TestCandidateStatsDerivedValues(t *testing.T) {
	t.Run("zero trials yields zero rates", func(t *testing.T) {
		var s CandidateStats
		assert.Zero(t, s.MeanReward())
		assert.Zero(t, s.MisclickRate())
	})

	t.Run("mean and misclick rate", func(t *testing.T) {
		s := CandidateStats{Trials: 4, RewardSum: 2.0, Misclicks: 1, LastSeen: time.Now()}
		assert.InDelta(t, 0.5, s.MeanReward(), 1e-9)
		assert.InDelta(t, 0.25, s.MisclickRate(), 1e-9)
	})
}
