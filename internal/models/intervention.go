package models

// InterventionSeverity grades a quality monitor finding.
type InterventionSeverity string

const (
	SeverityMinor    InterventionSeverity = "minor"
	SeverityModerate InterventionSeverity = "moderate"
	SeverityCritical InterventionSeverity = "critical"
)

// WindowMetrics are the scalar signals computed over one monitor window.
type WindowMetrics struct {
	TensionTrend        float64 `json:"tension_trend"`
	ConsistencyFlagRate float64 `json:"consistency_flag_rate"`
	TurnFailureRate     float64 `json:"turn_failure_rate"`
	ProgressionRate     float64 `json:"progression_rate"`
	EngagementProxy     float64 `json:"engagement_proxy"`
	WindowTurns         int     `json:"window_turns"`
}

// InterventionRequest is produced by the Quality Monitor and consumed by
// the orchestrator within the same cycle; it is never persisted.
type InterventionRequest struct {
	Severity        InterventionSeverity `json:"severity"`
	Problems        []string             `json:"problems"`
	Recommendations []string             `json:"recommendations"`
	Metrics         WindowMetrics        `json:"metrics"`
}

// ConsistencyReport is the oracle verdict for one contribution.
type ConsistencyReport struct {
	Consistent bool     `json:"consistent"`
	Score      float64  `json:"score"`
	Violations []string `json:"violations,omitempty"`
}

// CoherenceReport is the oracle verdict for a proposed directive.
type CoherenceReport struct {
	Coherent  bool     `json:"coherent"`
	PlotHoles []string `json:"plot_holes,omitempty"`
}
