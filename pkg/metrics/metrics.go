// Package metrics exposes the Overlord's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessed counts scheduler events by kind.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulus",
		Name:      "scheduler_events_total",
		Help:      "Scheduler events processed, by event kind.",
	}, []string{"kind"})

	// ActiveMinions tracks the current number of active minion records.
	ActiveMinions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nebulus",
		Name:      "active_minions",
		Help:      "Number of minions currently in the active set.",
	})

	// MinionsSpawned counts spawn attempts by outcome.
	MinionsSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulus",
		Name:      "minions_spawned_total",
		Help:      "Minion spawn attempts, by outcome.",
	}, []string{"outcome"})

	// MinionsCompleted counts terminal transitions by status.
	MinionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulus",
		Name:      "minions_completed_total",
		Help:      "Minion terminal transitions, by terminal status.",
	}, []string{"status"})

	// ReviewsRun counts review pipeline runs by decision.
	ReviewsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulus",
		Name:      "reviews_total",
		Help:      "Review pipeline runs, by decision.",
	}, []string{"decision"})

	// LLMCostUSD accumulates the estimated LLM spend.
	LLMCostUSD = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulus",
		Name:      "llm_cost_usd_total",
		Help:      "Estimated cumulative LLM cost in USD.",
	})
)
