package memory

import (
	"testing"

	"narrative-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return NewIndex(0.05, zap.NewNop())
}

func TestRecall_VisibilityRules(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID:     "ava",
		Description: "Ava hid the letter in the desk.",
		Kind:        models.MemorySecret,
	}))
	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID:      "ava",
		Description:  "Ava argued with Ben at the pier.",
		Participants: []string{"ben"},
		Kind:         models.MemoryEvent,
	}))
	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID:     "ava",
		Description: "The storm broke the north window.",
		Kind:        models.MemoryObservation,
		Public:      true,
	}))

	t.Run("owner sees everything", func(t *testing.T) {
		assert.Len(t, idx.Recall("ava", "ava", models.MemoryFilter{}), 3)
	})

	t.Run("participant sees shared and public only", func(t *testing.T) {
		got := idx.Recall("ben", "ava", models.MemoryFilter{})
		require.Len(t, got, 2)
		for _, m := range got {
			assert.True(t, m.Public || containsString(m.Participants, "ben"))
		}
	})

	t.Run("stranger sees public only", func(t *testing.T) {
		got := idx.Recall("cass", "ava", models.MemoryFilter{})
		require.Len(t, got, 1)
		assert.True(t, got[0].Public)
	})
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestRecall_RankedByImpactThenRecency(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Record(models.MemoryEntry{OwnerID: "ava", Description: "mild early", EmotionalImpact: 0.2, Turn: 1}))
	require.NoError(t, idx.Record(models.MemoryEntry{OwnerID: "ava", Description: "intense", EmotionalImpact: 0.9, Turn: 2}))
	require.NoError(t, idx.Record(models.MemoryEntry{OwnerID: "ava", Description: "mild late", EmotionalImpact: 0.2, Turn: 5}))

	got := idx.Recall("ava", "ava", models.MemoryFilter{})
	require.Len(t, got, 3)
	assert.Equal(t, "intense", got[0].Description)
	assert.Equal(t, "mild late", got[1].Description, "equal impact ranks by recency")
	assert.Equal(t, "mild early", got[2].Description)
}

func TestRecall_FiltersAndCap(t *testing.T) {
	idx := newTestIndex(t)
	for i := 0; i < 15; i++ {
		require.NoError(t, idx.Record(models.MemoryEntry{
			OwnerID:     "ava",
			Description: "the lighthouse keeper vanished",
			Kind:        models.MemoryEvent,
			Turn:        i,
		}))
	}
	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID:     "ava",
		Description: "a feeling of dread",
		Kind:        models.MemoryEmotion,
		Turn:        20,
	}))

	t.Run("default cap is ten", func(t *testing.T) {
		assert.Len(t, idx.Recall("ava", "ava", models.MemoryFilter{}), 10)
	})

	t.Run("kind filter", func(t *testing.T) {
		got := idx.Recall("ava", "ava", models.MemoryFilter{Kind: models.MemoryEmotion})
		require.Len(t, got, 1)
		assert.Equal(t, "a feeling of dread", got[0].Description)
	})

	t.Run("keyword filter is case insensitive", func(t *testing.T) {
		got := idx.Recall("ava", "ava", models.MemoryFilter{Keyword: "Lighthouse", Limit: 100})
		assert.Len(t, got, 15)
	})
}

func TestRelationshipScore_FoldAndClamp(t *testing.T) {
	idx := newTestIndex(t)

	// High-impact shared memory strengthens the bond.
	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID: "ava", Participants: []string{"ben"}, EmotionalImpact: 0.8,
	}))
	assert.InDelta(t, 0.1, idx.RelationshipScore("ava", "ben"), 1e-9)
	assert.InDelta(t, 0.1, idx.RelationshipScore("ben", "ava"), 1e-9, "score is symmetric")

	// Low-impact shared memory erodes it.
	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID: "ava", Participants: []string{"ben"}, EmotionalImpact: 0.3,
	}))
	assert.InDelta(t, 0.05, idx.RelationshipScore("ava", "ben"), 1e-9)

	// Scores stay inside [-1,1].
	for i := 0; i < 30; i++ {
		require.NoError(t, idx.Record(models.MemoryEntry{
			OwnerID: "ava", Participants: []string{"ben"}, EmotionalImpact: 0.9,
		}))
	}
	assert.Equal(t, 1.0, idx.RelationshipScore("ava", "ben"))
}

func TestDecayRelationships_ShrinksTowardZero(t *testing.T) {
	idx := NewIndex(0.5, zap.NewNop())
	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID: "ava", Participants: []string{"ben"}, EmotionalImpact: 0.9,
	}))
	require.InDelta(t, 0.1, idx.RelationshipScore("ava", "ben"), 1e-9)

	idx.DecayRelationships(1)
	assert.InDelta(t, 0.05, idx.RelationshipScore("ava", "ben"), 1e-9)

	// Two more elapsed turns compound the factor.
	idx.DecayRelationships(2)
	assert.InDelta(t, 0.0125, idx.RelationshipScore("ava", "ben"), 1e-9)

	idx.DecayRelationships(0)
	assert.InDelta(t, 0.0125, idx.RelationshipScore("ava", "ben"), 1e-9, "a zero-turn scene decays nothing")

	assert.Greater(t, idx.RelationshipScore("ava", "ben"), 0.0, "decay never crosses zero")
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Record(models.MemoryEntry{
		OwnerID: "ava", Description: "before", Participants: []string{"ben"}, EmotionalImpact: 0.8,
	}))

	snap, err := idx.Snapshot()
	require.NoError(t, err)

	require.NoError(t, idx.Record(models.MemoryEntry{OwnerID: "ava", Description: "after"}))
	require.Equal(t, 2, idx.Count())

	require.NoError(t, idx.Restore(snap))
	assert.Equal(t, 1, idx.Count())
	assert.InDelta(t, 0.1, idx.RelationshipScore("ava", "ben"), 1e-9)

	assert.ErrorIs(t, idx.Restore([]byte("{")), models.ErrInvalidState)
}
