package interfaces

import (
	"context"

	"narrative-server/internal/models"
)

// Generator produces an actor's next contribution. Implementations are
// opaque and swappable: a language model client, a scripted responder, or a
// human relay. Must honor ctx cancellation; slow calls surface as
// models.ErrGenerationTimeout.
type Generator interface {
	Generate(ctx context.Context, actorID string, snapshot models.StorySummary, role models.ActorRole) (*models.Contribution, error)
}

// ConsistencyChecker judges one contribution against an actor profile and
// recent history. Treated as a probabilistic oracle, not ground truth.
type ConsistencyChecker interface {
	CheckConsistency(ctx context.Context, profile models.Actor, contribution models.Contribution, recent []models.ActionRecord) (*models.ConsistencyReport, error)
}

// CoherenceChecker vets a proposed control directive against the story so
// far, before the orchestrator applies a critical intervention.
type CoherenceChecker interface {
	CheckCoherence(ctx context.Context, summary models.StorySummary, directive string) (*models.CoherenceReport, error)
}

// NarrativeAssembler compiles the final ordered log into narrative text.
// Invoked once at run completion.
type NarrativeAssembler interface {
	AssembleNarrative(ctx context.Context, actions []models.ActionRecord, events []models.DramaticEvent) (string, error)
}
