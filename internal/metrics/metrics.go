package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccountsCreated counts accounts created on first access.
	AccountsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "careerpivot",
		Subsystem: "accounts",
		Name:      "created_total",
		Help:      "Accounts created with the free-trial defaults.",
	})

	// TokenDeductions counts token spend attempts by outcome (spent, unlimited, denied).
	TokenDeductions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "careerpivot",
		Subsystem: "accounts",
		Name:      "token_deductions_total",
		Help:      "Token deduction attempts by outcome.",
	}, []string{"outcome"})

	// Upgrades counts tier assignments by target tier.
	Upgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "careerpivot",
		Subsystem: "accounts",
		Name:      "upgrades_total",
		Help:      "Tier upgrades by target tier.",
	}, []string{"tier"})

	// LiveSubscribers is the number of open account event websockets.
	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "careerpivot",
		Subsystem: "live",
		Name:      "subscribers",
		Help:      "Open account event websocket connections.",
	})

	AICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "careerpivot",
		Subsystem: "ai",
		Name:      "calls_total",
		Help:      "Generative AI calls by action and outcome.",
	}, []string{"action", "outcome"})

	AIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "careerpivot",
		Subsystem: "ai",
		Name:      "call_duration_seconds",
		Help:      "Generative AI call latency in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"action"})
)
