package story

import (
	"testing"

	"narrative-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(models.StoryState{
		Title:           "The Hollow Lighthouse",
		Genre:           models.GenreMystery,
		CurrentBeat:     models.BeatSetup,
		DramaticTension: 0.2,
	}, zap.NewNop())
	s.RegisterActor(models.Actor{ID: "ava", Name: "Ava", Role: models.RoleCharacter, Active: true})
	s.RegisterActor(models.Actor{ID: "ben", Name: "Ben", Role: models.RoleCharacter, Active: true})
	return s
}

func TestNewStore_DerivesTimelineFromGenre(t *testing.T) {
	s := NewStore(models.StoryState{Genre: models.GenreMystery}, zap.NewNop())

	st := s.State()
	assert.Len(t, st.Timeline, 8)
	assert.Equal(t, models.BeatSetup, st.CurrentBeat)

	s = NewStore(models.StoryState{Genre: models.GenreDrama}, zap.NewNop())
	assert.Len(t, s.State().Timeline, 9)
}

func TestApplyTensionDelta_Clamps(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, 0.5, s.ApplyTensionDelta(0.3, "event"))
	assert.Equal(t, 1.0, s.ApplyTensionDelta(0.9, "event"))
	assert.Equal(t, 0.0, s.ApplyTensionDelta(-1.5, "collapse"))
}

func TestApplyProgress_ClampsEachScalar(t *testing.T) {
	s := newTestStore(t)

	s.ApplyProgress(0.6, 0.2, -0.5, 1.4)
	st := s.State()
	assert.Equal(t, 0.6, st.SetupProgress)
	assert.Equal(t, 0.2, st.ConflictProgress)
	assert.Equal(t, 0.0, st.CharacterArc)
	assert.Equal(t, 1.0, st.ResolutionReadiness)
}

func TestRaiseProgressFloor_OnlyLifts(t *testing.T) {
	s := newTestStore(t)
	s.ApplyProgress(0.8, 0, 0, 0)

	s.RaiseProgressFloor(0.3, 0.4, -1, -1)
	st := s.State()
	assert.Equal(t, 0.8, st.SetupProgress, "floor below current value must not lower it")
	assert.Equal(t, 0.4, st.ConflictProgress)
	assert.Equal(t, 0.0, st.CharacterArc)
}

func TestSetCurrentBeat_RejectsOffTimelineBeat(t *testing.T) {
	s := newTestStore(t)

	// Mystery timeline has no falling action beat.
	err := s.SetCurrentBeat(models.BeatFallingAction)
	assert.ErrorIs(t, err, models.ErrUnknownBeat)

	require.NoError(t, s.SetCurrentBeat(models.BeatClimax))
	assert.Equal(t, models.BeatClimax, s.State().CurrentBeat)
}

func TestAppend_SequenceIDsStrictlyIncrease(t *testing.T) {
	s := newTestStore(t)

	s1, err := s.AppendEvent(models.DramaticEvent{Kind: models.EventPlotTwist, Affected: []string{"ava"}})
	require.NoError(t, err)
	s2, err := s.AppendAction(models.ActionRecord{ActorID: "ben", Kind: models.ActionContribution, Text: "Ben checks the lamp room."})
	require.NoError(t, err)
	s3, err := s.AppendRevelation(models.Revelation{ActorID: "ava", Description: "Ava knew the keeper."})
	require.NoError(t, err)
	s4, err := s.AppendEmotion(models.EmotionalExpression{ActorID: "ben", Emotion: "dread", Intensity: 0.7})
	require.NoError(t, err)

	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)
	assert.Less(t, s3, s4)
}

func TestAppend_UnknownActorRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendEvent(models.DramaticEvent{Kind: models.EventBetrayal, Affected: []string{"ghost"}})
	assert.ErrorIs(t, err, models.ErrUnknownActor)

	_, err = s.AppendAction(models.ActionRecord{ActorID: "ghost", Kind: models.ActionContribution})
	assert.ErrorIs(t, err, models.ErrUnknownActor)

	assert.Empty(t, s.Events())
	assert.Empty(t, s.Actions())
}

func TestSnapshotSummary_CapsRecentEntries(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 15; i++ {
		_, err := s.AppendAction(models.ActionRecord{ActorID: "ava", Kind: models.ActionContribution, Text: "line"})
		require.NoError(t, err)
	}

	sum := s.SnapshotSummary(10)
	assert.Len(t, sum.RecentActs, 10)
	assert.Equal(t, "The Hollow Lighthouse", sum.Title)
	// Entries are the most recent ones.
	assert.Equal(t, int64(15), sum.RecentActs[len(sum.RecentActs)-1].Seq)
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendAction(models.ActionRecord{ActorID: "ava", Kind: models.ActionContribution, Text: "before"})
	require.NoError(t, err)
	s.AdvanceTurn()

	snap, err := s.Snapshot()
	require.NoError(t, err)

	// Mutate past the checkpoint.
	_, err = s.AppendAction(models.ActionRecord{ActorID: "ben", Kind: models.ActionContribution, Text: "after"})
	require.NoError(t, err)
	s.ApplyTensionDelta(0.5, "test")
	require.NoError(t, s.SetCurrentBeat(models.BeatMidpoint))

	require.NoError(t, s.Restore(snap))

	st := s.State()
	assert.Equal(t, models.BeatSetup, st.CurrentBeat)
	assert.Equal(t, 0.2, st.DramaticTension)
	assert.Len(t, s.Actions(), 1, "log must shrink back to the checkpoint boundary")
	assert.Equal(t, 1, s.Turn())
	assert.True(t, s.HasActor("ben"))

	// Sequence counter is restored too, so new entries continue past it.
	seq, err := s.AppendAction(models.ActionRecord{ActorID: "ava", Kind: models.ActionContribution})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestRestore_RejectsMalformedSnapshot(t *testing.T) {
	s := newTestStore(t)

	err := s.Restore([]byte("not json"))
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestDeactivateActor(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.DeactivateActor("ava"))
	a, err := s.Actor("ava")
	require.NoError(t, err)
	assert.False(t, a.Active)

	assert.ErrorIs(t, s.DeactivateActor("ghost"), models.ErrUnknownActor)
}
