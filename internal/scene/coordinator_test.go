package scene

import (
	"testing"

	"narrative-server/internal/memory"
	"narrative-server/internal/models"
	"narrative-server/internal/story"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFixture(t *testing.T) (*Coordinator, *story.Store, *memory.Index) {
	t.Helper()
	s := story.NewStore(models.StoryState{Title: "t", Genre: models.GenreDrama}, zap.NewNop())
	s.RegisterActor(models.Actor{ID: "ava", Name: "Ava", Role: models.RoleCharacter, Active: true})
	s.RegisterActor(models.Actor{ID: "ben", Name: "Ben", Role: models.RoleCharacter, Active: true})
	s.RegisterActor(models.Actor{ID: "cass", Name: "Cass", Role: models.RoleCharacter, Active: false})
	mem := memory.NewIndex(0.05, zap.NewNop())
	return NewCoordinator(s, mem, zap.NewNop()), s, mem
}

func startScene(t *testing.T, c *Coordinator) *models.SceneContext {
	t.Helper()
	sc, err := c.StartScene("harbor", "night", "tense", []string{"ava", "ben"}, []string{"find the logbook"}, 0.5)
	require.NoError(t, err)
	return sc
}

func TestStartScene(t *testing.T) {
	t.Run("single active scene", func(t *testing.T) {
		c, _, _ := newFixture(t)
		startScene(t, c)

		_, err := c.StartScene("attic", "dawn", "quiet", nil, nil, 0.2)
		assert.ErrorIs(t, err, models.ErrDuplicateActiveScene)
	})

	t.Run("rejects unknown and inactive actors", func(t *testing.T) {
		c, _, _ := newFixture(t)

		_, err := c.StartScene("harbor", "night", "tense", []string{"ghost"}, nil, 0.5)
		assert.ErrorIs(t, err, models.ErrUnknownActor)

		_, err = c.StartScene("harbor", "night", "tense", []string{"cass"}, nil, 0.5)
		assert.ErrorIs(t, err, models.ErrActorInactive)

		_, err = c.ActiveScene()
		assert.ErrorIs(t, err, models.ErrNoActiveScene, "failed start leaves no scene behind")
	})
}

func TestUpdateContext_AtomicPatch(t *testing.T) {
	c, _, _ := newFixture(t)
	startScene(t, c)

	loc := "lamp room"
	target := 0.8
	got, err := c.UpdateContext(models.ScenePatch{
		Location:      &loc,
		TensionTarget: &target,
		RemoveActors:  []string{"ben"},
		AddObjectives: []string{"light the beacon"},
	})
	require.NoError(t, err)
	assert.Equal(t, "lamp room", got.Location)
	assert.Equal(t, 0.8, got.TensionTarget)
	assert.Equal(t, []string{"ava"}, got.PresentActors)
	assert.Len(t, got.Objectives, 2)

	t.Run("invalid patch changes nothing", func(t *testing.T) {
		bad := "cellar"
		_, err := c.UpdateContext(models.ScenePatch{
			Location:     &bad,
			RemoveActors: []string{"ben"}, // already removed
		})
		assert.ErrorIs(t, err, models.ErrActorNotPresent)

		sc, err := c.ActiveScene()
		require.NoError(t, err)
		assert.Equal(t, "lamp room", sc.Location)
	})

	t.Run("adding unknown actor fails", func(t *testing.T) {
		_, err := c.UpdateContext(models.ScenePatch{AddActors: []string{"ghost"}})
		assert.ErrorIs(t, err, models.ErrUnknownActor)
	})
}

func TestObjectives(t *testing.T) {
	c, _, _ := newFixture(t)
	startScene(t, c)

	done, err := c.ObjectivesComplete()
	require.NoError(t, err)
	assert.False(t, done)

	progress, err := c.ObjectiveProgress()
	require.NoError(t, err)
	assert.Zero(t, progress)

	require.NoError(t, c.CompleteObjective("find the logbook"))
	assert.ErrorIs(t, c.CompleteObjective("find the logbook"), models.ErrObjectiveCompleted)
	assert.ErrorIs(t, c.CompleteObjective("unknown goal"), models.ErrObjectiveNotFound)

	done, err = c.ObjectivesComplete()
	require.NoError(t, err)
	assert.True(t, done)

	progress, err = c.ObjectiveProgress()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, progress, 1e-9)
}

func TestRequireResponse(t *testing.T) {
	c, _, _ := newFixture(t)
	startScene(t, c)

	require.NoError(t, c.RequireResponse("ava"))
	assert.True(t, c.MustRespond("ava"))

	c.ClearResponse("ava")
	assert.False(t, c.MustRespond("ava"))

	assert.ErrorIs(t, c.RequireResponse("cass"), models.ErrActorNotPresent)

	// Removing an actor from the scene drops their pending flag.
	require.NoError(t, c.RequireResponse("ben"))
	_, err := c.UpdateContext(models.ScenePatch{RemoveActors: []string{"ben"}})
	require.NoError(t, err)
	assert.False(t, c.MustRespond("ben"))
}

func TestEndScene_ArchivesAndDecaysRelationships(t *testing.T) {
	c, s, mem := newFixture(t)
	startScene(t, c)
	s.AdvanceTurn()
	s.AdvanceTurn()

	require.NoError(t, mem.Record(models.MemoryEntry{
		OwnerID: "ava", Participants: []string{"ben"}, EmotionalImpact: 0.9,
	}))
	require.InDelta(t, 0.1, mem.RelationshipScore("ava", "ben"), 1e-9)

	done, err := c.EndScene("the logbook was found")
	require.NoError(t, err)
	assert.Equal(t, models.SceneCompleted, done.Status)
	assert.Equal(t, "the logbook was found", done.Summary)
	assert.False(t, done.EndedAt.IsZero())

	// Two turns elapsed: 0.1 * 0.95^2.
	assert.InDelta(t, 0.09025, mem.RelationshipScore("ava", "ben"), 1e-9)
	assert.Len(t, c.History(), 1)

	_, err = c.EndScene("again")
	assert.ErrorIs(t, err, models.ErrNoActiveScene)
}

func TestSceneBoundaryHookFires(t *testing.T) {
	c, _, _ := newFixture(t)
	calls := 0
	c.OnSceneEnd(func() { calls++ })

	startScene(t, c)
	_, err := c.TransitionScene(models.TransitionFade, "onward", "attic", "dawn", "quiet", []string{"ava"}, nil, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = c.EndScene("done")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestTransitionScene(t *testing.T) {
	c, _, _ := newFixture(t)
	first := startScene(t, c)

	next, err := c.TransitionScene(models.TransitionCut, "the harbor empties", "lamp room", "midnight", "dread", []string{"ava"}, []string{"confront the keeper"}, 0.7)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, models.SceneActive, next.Status)

	hist := c.History()
	require.Len(t, hist, 1)
	assert.Equal(t, first.ID, hist[0].ID)
	assert.Equal(t, "the harbor empties", hist[0].Summary)

	t.Run("bad next scene keeps current one active", func(t *testing.T) {
		_, err := c.TransitionScene(models.TransitionFade, "s", "cellar", "dawn", "calm", []string{"ghost"}, nil, 0.2)
		assert.ErrorIs(t, err, models.ErrUnknownActor)

		sc, err := c.ActiveScene()
		require.NoError(t, err)
		assert.Equal(t, next.ID, sc.ID)
		assert.Equal(t, models.SceneActive, sc.Status)
		assert.Len(t, c.History(), 1)
	})
}
