package models

import "time"

// Genre of the simulated story. The genre selects the beat timeline and the
// event template library.
type Genre string

const (
	GenreMystery  Genre = "mystery"
	GenreRomance  Genre = "romance"
	GenreThriller Genre = "thriller"
	GenreComedy   Genre = "comedy"
	GenreDrama    Genre = "drama"
	GenreSciFi    Genre = "science_fiction"
	GenreFantasy  Genre = "fantasy"
)

// Standard beats of the three-act structure.
const (
	BeatSetup            = "setup"
	BeatIncitingIncident = "inciting_incident"
	BeatFirstPlotPoint   = "first_plot_point"
	BeatRisingAction     = "rising_action"
	BeatMidpoint         = "midpoint"
	BeatSecondPlotPoint  = "second_plot_point"
	BeatClimax           = "climax"
	BeatFallingAction    = "falling_action"
	BeatResolution       = "resolution"
)

// DefaultTimeline is the beat ordering used for genres without a dedicated
// progression template.
func DefaultTimeline() []string {
	return []string{
		BeatSetup,
		BeatIncitingIncident,
		BeatFirstPlotPoint,
		BeatRisingAction,
		BeatMidpoint,
		BeatSecondPlotPoint,
		BeatClimax,
		BeatFallingAction,
		BeatResolution,
	}
}

// TimelineForGenre returns the beat progression for a genre. Mystery,
// romance and thriller cut falling action and land straight on the
// resolution after the climax.
func TimelineForGenre(g Genre) []string {
	switch g {
	case GenreMystery, GenreRomance, GenreThriller:
		return []string{
			BeatSetup,
			BeatIncitingIncident,
			BeatFirstPlotPoint,
			BeatRisingAction,
			BeatMidpoint,
			BeatSecondPlotPoint,
			BeatClimax,
			BeatResolution,
		}
	default:
		return DefaultTimeline()
	}
}

// StoryState is the singleton mutable record of one run. All scalar fields
// stay inside [0,1]; CurrentBeat is always a member of Timeline. Mutation
// goes through the story.Store operations only.
type StoryState struct {
	Title    string   `json:"title"`
	Genre    Genre    `json:"genre"`
	Setting  string   `json:"setting,omitempty"`
	Timeline []string `json:"timeline"`

	CurrentBeat         string  `json:"current_beat"`
	DramaticTension     float64 `json:"dramatic_tension"`
	SetupProgress       float64 `json:"setup_progress"`
	ConflictProgress    float64 `json:"conflict_progress"`
	CharacterArc        float64 `json:"character_arc_progress"`
	ResolutionReadiness float64 `json:"resolution_readiness"`
}

// EventKind classifies dramatic events.
type EventKind string

const (
	EventPlotTwist            EventKind = "plot_twist"
	EventCharacterRevelation  EventKind = "character_revelation"
	EventConflictEscalation   EventKind = "conflict_escalation"
	EventBetrayal             EventKind = "betrayal"
	EventRomanticComplication EventKind = "romantic_complication"
	EventMysteriousOccurrence EventKind = "mysterious_occurrence"
	EventDeadlinePressure     EventKind = "deadline_pressure"
	EventMoralDilemma         EventKind = "moral_dilemma"
	EventUnexpectedAlly       EventKind = "unexpected_ally"
	EventMajorSetback         EventKind = "major_setback"
)

// DramaticEvent is an immutable log entry recording a discrete dramatic
// cause. TensionDelta is the delta applied exactly once at creation.
type DramaticEvent struct {
	Seq          int64     `json:"seq"`
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	Description  string    `json:"description"`
	Affected     []string  `json:"affected_actors"`
	Intensity    float64   `json:"intensity"`
	TensionDelta float64   `json:"tension_delta"`
	Turn         int       `json:"turn"`
	CreatedAt    time.Time `json:"created_at"`
}

// Revelation is an immutable log entry for an exposed secret or truth.
type Revelation struct {
	Seq          int64     `json:"seq"`
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id"`
	TargetID     string    `json:"target_id,omitempty"`
	Description  string    `json:"description"`
	Public       bool      `json:"public"`
	TensionDelta float64   `json:"tension_delta"`
	Turn         int       `json:"turn"`
	CreatedAt    time.Time `json:"created_at"`
}

// EmotionalExpression is an immutable log entry for a declared emotion.
type EmotionalExpression struct {
	Seq          int64     `json:"seq"`
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id"`
	Emotion      string    `json:"emotion"`
	Intensity    float64   `json:"intensity"`
	TensionDelta float64   `json:"tension_delta"`
	Turn         int       `json:"turn"`
	CreatedAt    time.Time `json:"created_at"`
}

// ActionRecord is an immutable log entry for an actor's turn output or a
// scheduler-reported turn failure.
type ActionRecord struct {
	Seq          int64     `json:"seq"`
	ID           string    `json:"id"`
	ActorID      string    `json:"actor_id"`
	Kind         string    `json:"kind"`
	Text         string    `json:"text"`
	TensionDelta float64   `json:"tension_delta"`
	Turn         int       `json:"turn"`
	CreatedAt    time.Time `json:"created_at"`
}

// Action kinds recorded by the scheduler and orchestrator.
const (
	ActionContribution = "contribution"
	ActionTurnFailure  = "turn_failure"
	ActionIntervention = "intervention"
)

// StorySummary is the condensed view handed to external collaborators for
// coherence checks and turn context.
type StorySummary struct {
	Title        string          `json:"title"`
	Genre        Genre           `json:"genre"`
	CurrentBeat  string          `json:"current_beat"`
	Tension      float64         `json:"dramatic_tension"`
	Turn         int             `json:"turn"`
	RecentEvents []DramaticEvent `json:"recent_events"`
	RecentActs   []ActionRecord  `json:"recent_actions"`
}

// Clamp01 bounds a scalar into [0,1]. Every write to tension and the four
// progress scalars passes through here.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
