package database

import (
	"context"
	"fmt"
	"sync"

	"narrative-server/internal/interfaces"
	"narrative-server/internal/models"
)

// MemoryCheckpointStore keeps checkpoints in process memory. Used when no
// redis address is configured, and in tests.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[int]interfaces.Checkpoint
	latest      map[string]int
}

var _ interfaces.CheckpointStore = (*MemoryCheckpointStore)(nil)

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]map[int]interfaces.Checkpoint),
		latest:      make(map[string]int),
	}
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp interfaces.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints[cp.RunID] == nil {
		s.checkpoints[cp.RunID] = make(map[int]interfaces.Checkpoint)
	}
	stored := cp
	stored.Payload = append([]byte(nil), cp.Payload...)
	s.checkpoints[cp.RunID][cp.SceneOrdinal] = stored
	if cp.SceneOrdinal >= s.latest[cp.RunID] {
		s.latest[cp.RunID] = cp.SceneOrdinal
	}
	return nil
}

func (s *MemoryCheckpointStore) Load(_ context.Context, runID string, sceneOrdinal int) (*interfaces.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[runID][sceneOrdinal]
	if !ok {
		return nil, fmt.Errorf("%w: run %s scene %d", models.ErrCheckpointNotFound, runID, sceneOrdinal)
	}
	out := cp
	out.Payload = append([]byte(nil), cp.Payload...)
	return &out, nil
}

func (s *MemoryCheckpointStore) LoadLatest(ctx context.Context, runID string) (*interfaces.Checkpoint, error) {
	s.mu.RLock()
	ordinal, ok := s.latest[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: run %s", models.ErrCheckpointNotFound, runID)
	}
	return s.Load(ctx, runID, ordinal)
}
