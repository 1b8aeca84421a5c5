// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. All collectors register
// with the default registry and surface on the /metrics endpoint.
type Metrics struct {
	// SessionsCreated counts sessions by mode.
	SessionsCreated *prometheus.CounterVec

	// TurnDuration measures full turn duration in seconds, labeled by how
	// the turn ended (completed|error).
	TurnDuration *prometheus.HistogramVec

	// EventsEmitted counts protocol events written to clients.
	// Labels: protocol (passthrough|a2a), type
	EventsEmitted *prometheus.CounterVec

	// TurnErrors counts turns that ended with an engine error, by code.
	TurnErrors *prometheus.CounterVec

	// InterruptsRaised counts question and plan interrupts.
	InterruptsRaised *prometheus.CounterVec
}

// New creates and registers all collectors plus an active-session gauge fed
// by activeSessions. Call once at startup.
func New(activeSessions func() int) *Metrics {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tandem_sessions_active",
			Help: "Number of live sessions in the registry",
		},
		func() float64 { return float64(activeSessions()) },
	)

	return &Metrics{
		SessionsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_sessions_created_total",
				Help: "Total number of sessions created, by mode",
			},
			[]string{"mode"},
		),

		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tandem_turn_duration_seconds",
				Help:    "Duration of session turns in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),

		EventsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_events_emitted_total",
				Help: "Total number of protocol events written, by protocol and event type",
			},
			[]string{"protocol", "type"},
		),

		TurnErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_turn_errors_total",
				Help: "Total number of turns that ended with an engine error, by code",
			},
			[]string{"code"},
		),

		InterruptsRaised: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tandem_interrupts_raised_total",
				Help: "Total number of interaction interrupts raised, by kind",
			},
			[]string{"kind"},
		),
	}
}
