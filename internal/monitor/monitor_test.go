package monitor

import (
	"testing"

	"narrative-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		CriticalFlagRate:    0.5,
		MaxTurnFailureRate:  0.5,
		LowTensionFloor:     0.3,
		MinProgressionRate:  0.005,
		MinEngagementProxy:  0.5,
		BorderlineTolerance: 0.1,
	}
}

func healthy(tension, progression float64) Observation {
	return Observation{ActorID: "ava", PresentActors: 1, Tension: tension, Progression: progression}
}

func TestReview_HealthyWindowNeedsNoIntervention(t *testing.T) {
	m := New(5, defaultThresholds(), zap.NewNop())
	for i := 0; i < 5; i++ {
		m.Observe(healthy(0.5+0.02*float64(i), 0.1+0.15*float64(i)))
	}
	require.True(t, m.Due())
	assert.Nil(t, m.Review())
	assert.False(t, m.Due(), "review resets the window counter")
}

func TestReview_EmptyWindow(t *testing.T) {
	m := New(5, defaultThresholds(), zap.NewNop())
	assert.Nil(t, m.Review())
}

func TestReview_HighFlagRateIsCritical(t *testing.T) {
	m := New(5, defaultThresholds(), zap.NewNop())
	for i := 0; i < 5; i++ {
		o := healthy(0.6, 0.1+0.2*float64(i))
		o.ConsistencyFlag = i < 3
		m.Observe(o)
	}

	req := m.Review()
	require.NotNil(t, req)
	assert.Equal(t, models.SeverityCritical, req.Severity)
	assert.InDelta(t, 0.6, req.Metrics.ConsistencyFlagRate, 1e-9)
	assert.Contains(t, req.Recommendations, "roll back to the last scene checkpoint")
}

func TestReview_SustainedLowTensionIsCritical(t *testing.T) {
	m := New(5, defaultThresholds(), zap.NewNop())
	for i := 0; i < 5; i++ {
		m.Observe(healthy(0.1, 0.1+0.2*float64(i)))
	}

	req := m.Review()
	require.NotNil(t, req)
	assert.Equal(t, models.SeverityCritical, req.Severity)

	t.Run("one healthy turn breaks the streak", func(t *testing.T) {
		m := New(5, defaultThresholds(), zap.NewNop())
		for i := 0; i < 5; i++ {
			tension := 0.1
			if i == 2 {
				tension = 0.5
			}
			m.Observe(healthy(tension, 0.1+0.2*float64(i)))
		}
		req := m.Review()
		if req != nil {
			assert.NotEqual(t, models.SeverityCritical, req.Severity)
		}
	})
}

func TestReview_Progression(t *testing.T) {
	t.Run("standing still is minor", func(t *testing.T) {
		m := New(5, defaultThresholds(), zap.NewNop())
		for i := 0; i < 5; i++ {
			m.Observe(healthy(0.6, 0.4))
		}

		req := m.Review()
		require.NotNil(t, req)
		assert.Equal(t, models.SeverityMinor, req.Severity)
		assert.Contains(t, req.Recommendations, "advance the story beat or inject a plot event")
	})

	t.Run("regression is moderate", func(t *testing.T) {
		m := New(5, defaultThresholds(), zap.NewNop())
		for i := 0; i < 5; i++ {
			m.Observe(healthy(0.6, 0.5-0.1*float64(i)))
		}

		req := m.Review()
		require.NotNil(t, req)
		assert.Equal(t, models.SeverityModerate, req.Severity)
	})
}

func TestReview_Engagement(t *testing.T) {
	t.Run("single speaker of three present is moderate", func(t *testing.T) {
		m := New(5, defaultThresholds(), zap.NewNop())
		for i := 0; i < 5; i++ {
			m.Observe(Observation{ActorID: "ava", PresentActors: 3,
				Tension: 0.5 + 0.02*float64(i), Progression: 0.1 + 0.2*float64(i)})
		}

		req := m.Review()
		require.NotNil(t, req)
		assert.Equal(t, models.SeverityModerate, req.Severity)
		assert.InDelta(t, 1.0/3.0, req.Metrics.EngagementProxy, 1e-9)
	})

	t.Run("borderline engagement is minor", func(t *testing.T) {
		m := New(5, defaultThresholds(), zap.NewNop())
		speakers := []string{"ava", "ben", "ava", "ben", "ava"}
		for i, id := range speakers {
			m.Observe(Observation{ActorID: id, PresentActors: 5,
				Tension: 0.6, Progression: 0.1 + 0.2*float64(i)})
		}

		req := m.Review()
		require.NotNil(t, req)
		assert.Equal(t, models.SeverityMinor, req.Severity)
		assert.InDelta(t, 0.4, req.Metrics.EngagementProxy, 1e-9)
	})
}

func TestReview_TurnFailuresAreNotConsistencyFlags(t *testing.T) {
	m := New(5, defaultThresholds(), zap.NewNop())
	for i := 0; i < 5; i++ {
		o := healthy(0.6, 0.1+0.2*float64(i))
		if i < 3 {
			o.TurnFailed = true
			o.ActorID = ""
		}
		m.Observe(o)
	}

	req := m.Review()
	require.NotNil(t, req)
	assert.Equal(t, models.SeverityModerate, req.Severity)
	assert.Zero(t, req.Metrics.ConsistencyFlagRate)
	assert.InDelta(t, 0.6, req.Metrics.TurnFailureRate, 1e-9)
	assert.NotContains(t, req.Recommendations, "roll back to the last scene checkpoint")
}

func TestObserve_WindowSlides(t *testing.T) {
	m := New(3, defaultThresholds(), zap.NewNop())
	for i := 0; i < 10; i++ {
		m.Observe(healthy(0.5, 0.5))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.observations, 3)
}
