package interfaces

import (
	"context"

	"narrative-server/internal/models"
)

// Checkpoint is a serialized story boundary usable for rollback. Payload is
// the opaque snapshot produced by the story store and memory index.
type Checkpoint struct {
	RunID        string `json:"run_id"`
	SceneOrdinal int    `json:"scene_ordinal"`
	Payload      []byte `json:"payload"`
}

// CheckpointStore persists scene-boundary checkpoints for rollback and
// replay. Load returns models.ErrCheckpointNotFound when no checkpoint
// exists for the key.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, runID string, sceneOrdinal int) (*Checkpoint, error)
	LoadLatest(ctx context.Context, runID string) (*Checkpoint, error)
}

// RunArchiveRepository persists the durable artifact of a completed run:
// the snapshot summary plus the full ordered logs.
type RunArchiveRepository interface {
	SaveRun(ctx context.Context, runID string, status string, turns int, summary models.StorySummary, narrative string) error
	SaveActions(ctx context.Context, runID string, actions []models.ActionRecord) error
	SaveEvents(ctx context.Context, runID string, events []models.DramaticEvent) error
}

// RunUpdatePublisher emits engine lifecycle notifications (scene
// transitions, interventions, termination) to interested consumers. A nil
// publisher is treated as a no-op by the orchestrator.
type RunUpdatePublisher interface {
	PublishRunUpdate(ctx context.Context, update RunUpdate) error
	Close() error
}

// RunUpdate is one engine notification.
type RunUpdate struct {
	RunID    string                 `json:"run_id"`
	Kind     string                 `json:"kind"`
	Turn     int                    `json:"turn"`
	Severity string                 `json:"severity,omitempty"`
	Detail   string                 `json:"detail,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// Run update kinds.
const (
	UpdateSceneStarted  = "scene_started"
	UpdateSceneEnded    = "scene_ended"
	UpdateIntervention  = "intervention"
	UpdateEventInjected = "event_injected"
	UpdateRunTerminated = "run_terminated"
	UpdateRolledBack    = "rolled_back"
	UpdateBeatAdvanced  = "beat_advanced"
	UpdateActorStalled  = "actor_stalled"
)
