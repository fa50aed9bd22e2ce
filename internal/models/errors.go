package models

import "errors"

// Engine-wide standard errors
var (
	// State & reference errors
	ErrUnknownActor  = errors.New("entry references unknown actor id")
	ErrUnknownBeat   = errors.New("beat is not part of the story timeline")
	ErrInvalidState  = errors.New("invalid story state")
	ErrActorInactive = errors.New("actor is inactive")

	// Generation collaborator errors
	ErrGenerationTimeout = errors.New("generation call timed out")
	ErrGenerationFailed  = errors.New("generation call failed")
	ErrEmptyContribution = errors.New("collaborator returned empty contribution")

	// Scene lifecycle errors
	ErrDuplicateActiveScene = errors.New("a scene is already active")
	ErrNoActiveScene        = errors.New("no active scene")
	ErrSceneNotActive       = errors.New("scene is not in active status")
	ErrObjectiveCompleted   = errors.New("objective is already completed")
	ErrObjectiveNotFound    = errors.New("objective not found in scene")

	// Progression errors
	ErrAlreadyTerminal = errors.New("timeline is already at the terminal beat")

	// Scheduling errors
	ErrNoEligibleActor = errors.New("no eligible actor to dispatch")
	ErrActorStalled    = errors.New("actor is stalled for the remainder of the scene")
	ErrActorNotPresent = errors.New("actor is not present in the active scene")

	// Checkpoint & persistence errors
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
