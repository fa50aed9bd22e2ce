package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrative_turns_total",
		Help: "Total number of turns executed across all runs.",
	})

	turnFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrative_turn_failures_total",
		Help: "Total number of failed turn dispatches.",
	})

	interventionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_interventions_total",
		Help: "Quality monitor interventions by severity.",
	}, []string{"severity"})

	eventsInjectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_events_injected_total",
		Help: "Dramatic events injected by kind.",
	}, []string{"kind"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrative_rollbacks_total",
		Help: "Checkpoint rollbacks performed by critical interventions.",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_runs_total",
		Help: "Finished runs by terminal status.",
	}, []string{"status"})
)
