package progression

import (
	"testing"

	"narrative-server/internal/models"
	"narrative-server/internal/story"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTracker(t *testing.T, genre models.Genre) (*Tracker, *story.Store) {
	t.Helper()
	s := story.NewStore(models.StoryState{Title: "t", Genre: genre}, zap.NewNop())
	return NewTracker(s, 0.1, zap.NewNop()), s
}

func TestAdvanceBeat_WalksTimelineAndLiftsProgress(t *testing.T) {
	tr, s := newTracker(t, models.GenreDrama)

	next, err := tr.AdvanceBeat()
	require.NoError(t, err)
	assert.Equal(t, models.BeatIncitingIncident, next)

	st := s.State()
	assert.GreaterOrEqual(t, st.SetupProgress, 0.5)
	assert.GreaterOrEqual(t, st.ConflictProgress, 0.2)
	assert.Equal(t, 0.0, st.ResolutionReadiness, "early beats leave resolution untouched")
}

func TestAdvanceBeat_TerminalIsIdempotentError(t *testing.T) {
	tr, s := newTracker(t, models.GenreMystery)

	for i := 0; i < 7; i++ {
		_, err := tr.AdvanceBeat()
		require.NoError(t, err)
	}
	require.True(t, tr.IsTerminal())
	require.Equal(t, models.BeatResolution, s.State().CurrentBeat)

	before := s.State()
	beat, err := tr.AdvanceBeat()
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)
	assert.Equal(t, models.BeatResolution, beat)
	assert.Equal(t, before, s.State(), "failed advance must not mutate state")
}

func TestCurrentAct_SplitsTimelineIntoThirds(t *testing.T) {
	tr, s := newTracker(t, models.GenreDrama)

	assert.Equal(t, 1, tr.CurrentAct())

	require.NoError(t, s.SetCurrentBeat(models.BeatMidpoint))
	assert.Equal(t, 2, tr.CurrentAct())

	require.NoError(t, s.SetCurrentBeat(models.BeatResolution))
	assert.Equal(t, 3, tr.CurrentAct())
}

func TestRecommendedTensionRange(t *testing.T) {
	tr, _ := newTracker(t, models.GenreDrama)

	low, high, err := tr.RecommendedTensionRange(models.BeatSetup)
	require.NoError(t, err)
	assert.Equal(t, 0.1, low)
	assert.Equal(t, 0.3, high)

	low, high, err = tr.RecommendedTensionRange(models.BeatClimax)
	require.NoError(t, err)
	assert.Equal(t, 0.8, low)
	assert.Equal(t, 1.0, high)

	_, _, err = tr.RecommendedTensionRange("denouement")
	assert.ErrorIs(t, err, models.ErrUnknownBeat)
}

func TestAutoAdjustTension(t *testing.T) {
	t.Run("inside range is untouched", func(t *testing.T) {
		tr, s := newTracker(t, models.GenreDrama)
		s.SetTension(0.2, "test")

		got, changed := tr.AutoAdjustTension()
		assert.False(t, changed)
		assert.Equal(t, 0.2, got)
	})

	t.Run("far outside moves one bounded step", func(t *testing.T) {
		tr, s := newTracker(t, models.GenreDrama)
		require.NoError(t, s.SetCurrentBeat(models.BeatClimax))
		s.SetTension(0.2, "test")

		got, changed := tr.AutoAdjustTension()
		assert.True(t, changed)
		assert.InDelta(t, 0.3, got, 1e-9, "moves at most the adjust step toward the midpoint")
	})

	t.Run("near midpoint snaps to it", func(t *testing.T) {
		tr, s := newTracker(t, models.GenreDrama)
		s.SetTension(0.45, "test")

		// Setup midpoint is 0.2, distance 0.25 capped to 0.1.
		got, changed := tr.AutoAdjustTension()
		assert.True(t, changed)
		assert.InDelta(t, 0.35, got, 1e-9)
	})
}

func TestProgressionRate(t *testing.T) {
	tr, s := newTracker(t, models.GenreDrama)
	assert.Equal(t, 0.0, tr.ProgressionRate())

	s.ApplyProgress(1, 1, 0, 0)
	assert.Equal(t, 0.5, tr.ProgressionRate())
}
