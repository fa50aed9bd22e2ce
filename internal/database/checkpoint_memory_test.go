package database

import (
	"context"
	"testing"

	"narrative-server/internal/interfaces"
	"narrative-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCheckpointStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	_, err := store.Load(ctx, "run", 1)
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)
	_, err = store.LoadLatest(ctx, "run")
	assert.ErrorIs(t, err, models.ErrCheckpointNotFound)

	require.NoError(t, store.Save(ctx, interfaces.Checkpoint{RunID: "run", SceneOrdinal: 1, Payload: []byte("first")}))
	require.NoError(t, store.Save(ctx, interfaces.Checkpoint{RunID: "run", SceneOrdinal: 2, Payload: []byte("second")}))

	cp, err := store.Load(ctx, "run", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), cp.Payload)

	latest, err := store.LoadLatest(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.SceneOrdinal)
	assert.Equal(t, []byte("second"), latest.Payload)

	// Payloads are copies; mutating the returned slice leaves the store
	// untouched.
	latest.Payload[0] = 'X'
	again, err := store.LoadLatest(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), again.Payload)
}
