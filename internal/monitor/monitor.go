package monitor

import (
	"fmt"
	"sync"

	"narrative-server/internal/models"

	"go.uber.org/zap"
)

// Observation is what the orchestrator reports to the monitor after each
// turn.
type Observation struct {
	ActorID         string
	PresentActors   int
	Tension         float64
	Progression     float64
	ConsistencyFlag bool
	TurnFailed      bool
}

// Thresholds tune when the monitor asks for an intervention.
type Thresholds struct {
	CriticalFlagRate    float64
	MaxTurnFailureRate  float64
	LowTensionFloor     float64
	MinProgressionRate  float64
	MinEngagementProxy  float64
	BorderlineTolerance float64
}

// Monitor watches the narrative over a sliding window of turns and turns
// degraded signals into intervention requests. It holds no story state of
// its own; everything it knows arrives through Observe.
type Monitor struct {
	mu     sync.Mutex
	logger *zap.Logger

	window     int
	thresholds Thresholds

	observations []Observation
	sinceReview  int
}

func New(window int, thresholds Thresholds, logger *zap.Logger) *Monitor {
	return &Monitor{
		logger:     logger.Named("QualityMonitor"),
		window:     window,
		thresholds: thresholds,
	}
}

// Observe records one turn's signals.
func (m *Monitor) Observe(o Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observations = append(m.observations, o)
	if len(m.observations) > m.window {
		m.observations = m.observations[len(m.observations)-m.window:]
	}
	m.sinceReview++
}

// Due reports whether a full window has passed since the last review.
func (m *Monitor) Due() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sinceReview >= m.window
}

// Review evaluates the current window. It returns nil when the narrative
// looks healthy. The review counter resets either way.
func (m *Monitor) Review() *models.InterventionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sinceReview = 0
	if len(m.observations) == 0 {
		return nil
	}

	metrics := m.computeMetricsLocked()
	problems, recommendations, severity := m.assessLocked(metrics)
	if len(problems) == 0 {
		return nil
	}

	req := &models.InterventionRequest{
		Severity:        severity,
		Problems:        problems,
		Recommendations: recommendations,
		Metrics:         metrics,
	}
	m.logger.Warn("Quality review requests intervention",
		zap.String("severity", string(severity)),
		zap.Strings("problems", problems))
	return req
}

func (m *Monitor) computeMetricsLocked() models.WindowMetrics {
	obs := m.observations
	first, last := obs[0], obs[len(obs)-1]

	flagged, failed := 0, 0
	speakers := make(map[string]bool)
	for _, o := range obs {
		if o.ConsistencyFlag {
			flagged++
		}
		if o.TurnFailed {
			failed++
			continue
		}
		if o.ActorID != "" {
			speakers[o.ActorID] = true
		}
	}
	// Distinct actors who contributed over the window, against the present
	// set of the latest turn. Failed turns are not participation.
	engagement := 1.0
	if last.PresentActors > 0 {
		engagement = float64(len(speakers)) / float64(last.PresentActors)
		if engagement > 1 {
			engagement = 1
		}
	}

	return models.WindowMetrics{
		TensionTrend:        last.Tension - first.Tension,
		ConsistencyFlagRate: float64(flagged) / float64(len(obs)),
		TurnFailureRate:     float64(failed) / float64(len(obs)),
		ProgressionRate:     (last.Progression - first.Progression) / float64(len(obs)),
		EngagementProxy:     engagement,
		WindowTurns:         len(obs),
	}
}

func (m *Monitor) assessLocked(metrics models.WindowMetrics) (problems, recommendations []string, severity models.InterventionSeverity) {
	th := m.thresholds
	severity = models.SeverityMinor
	escalate := func(s models.InterventionSeverity) {
		if rank(s) > rank(severity) {
			severity = s
		}
	}

	if metrics.ConsistencyFlagRate > th.CriticalFlagRate {
		problems = append(problems, fmt.Sprintf("consistency flag rate %.2f exceeds %.2f", metrics.ConsistencyFlagRate, th.CriticalFlagRate))
		recommendations = append(recommendations, "roll back to the last scene checkpoint")
		escalate(models.SeverityCritical)
	}

	// Generation failures are recovered locally by the scheduler; they
	// degrade the run but are not consistency violations.
	if metrics.TurnFailureRate > th.MaxTurnFailureRate {
		problems = append(problems, fmt.Sprintf("turn failure rate %.2f exceeds %.2f", metrics.TurnFailureRate, th.MaxTurnFailureRate))
		recommendations = append(recommendations, "revive or replace failing actors")
		escalate(models.SeverityModerate)
	}

	if m.tensionBelowFloorLocked() {
		problems = append(problems, fmt.Sprintf("dramatic tension below %.2f for the whole window", th.LowTensionFloor))
		recommendations = append(recommendations, "inject a conflict escalation event")
		escalate(models.SeverityCritical)
	}

	if metrics.ProgressionRate < th.MinProgressionRate {
		problems = append(problems, fmt.Sprintf("progression rate %.3f below %.3f", metrics.ProgressionRate, th.MinProgressionRate))
		recommendations = append(recommendations, "advance the story beat or inject a plot event")
		// Standing still is a nudge; moving backward needs correction.
		if metrics.ProgressionRate >= 0 {
			escalate(models.SeverityMinor)
		} else {
			escalate(models.SeverityModerate)
		}
	}

	if metrics.EngagementProxy < th.MinEngagementProxy {
		problems = append(problems, fmt.Sprintf("engagement proxy %.2f below %.2f", metrics.EngagementProxy, th.MinEngagementProxy))
		recommendations = append(recommendations, "require responses from quiet actors or transition the scene")
		if metrics.EngagementProxy >= th.MinEngagementProxy-th.BorderlineTolerance {
			escalate(models.SeverityMinor)
		} else {
			escalate(models.SeverityModerate)
		}
	}

	if metrics.TensionTrend < -0.1 {
		problems = append(problems, fmt.Sprintf("tension trending down %.2f over the window", metrics.TensionTrend))
		recommendations = append(recommendations, "inject a dramatic event to recover tension")
		escalate(models.SeverityModerate)
	}

	return problems, recommendations, severity
}

// tensionBelowFloorLocked is true only when every observation of a full
// window sat under the floor.
func (m *Monitor) tensionBelowFloorLocked() bool {
	if len(m.observations) < m.window {
		return false
	}
	for _, o := range m.observations {
		if o.Tension >= m.thresholds.LowTensionFloor {
			return false
		}
	}
	return true
}

func rank(s models.InterventionSeverity) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityModerate:
		return 2
	default:
		return 1
	}
}
