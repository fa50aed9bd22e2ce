package models

import "time"

// SceneStatus is the lifecycle state of a scene.
type SceneStatus string

const (
	SceneCreated       SceneStatus = "created"
	SceneActive        SceneStatus = "active"
	SceneTransitioning SceneStatus = "transitioning"
	SceneCompleted     SceneStatus = "completed"
)

// TransitionKind describes how one scene hands over to the next.
type TransitionKind string

const (
	TransitionCut        TransitionKind = "cut"
	TransitionFade       TransitionKind = "fade"
	TransitionContinuous TransitionKind = "continuous"
	TransitionTimeSkip   TransitionKind = "time_skip"
)

// Objective is a named, completable goal inside a scene. A completed
// objective can no longer be renamed.
type Objective struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// SceneContext holds the mutable context of one scene. It is created and
// mutated by the Scene Coordinator only, and archived read-only on scene end.
type SceneContext struct {
	ID             string      `json:"id"`
	Location       string      `json:"location"`
	TimePeriod     string      `json:"time_period"`
	Mood           string      `json:"mood"`
	PresentActors  []string    `json:"present_actors"`
	Objectives     []Objective `json:"objectives"`
	TensionTarget  float64     `json:"tension_target"`
	Status         SceneStatus `json:"status"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        time.Time   `json:"ended_at,omitempty"`
	Summary        string      `json:"summary,omitempty"`
	StartTurn      int         `json:"start_turn"`
	StartActionSeq int64       `json:"start_action_seq"`
}

// ScenePatch carries partial updates for an active scene. Nil fields are
// left untouched.
type ScenePatch struct {
	Location      *string
	Mood          *string
	TensionTarget *float64
	AddActors     []string
	RemoveActors  []string
	AddObjectives []string
}
