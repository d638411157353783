// Package telemetry exposes the Prometheus metrics of the assistant service.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shop_assistant_active_sessions",
		Help: "Number of connected assistant sessions",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_assistant_messages_total",
		Help: "Chat messages sent, by outcome",
	}, []string{"outcome"})

	InterpretationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_assistant_interpretations_total",
		Help: "Interpreted assistant replies, by kind and effect",
	}, []string{"kind", "effect"})

	PlaybackTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_assistant_playback_transitions_total",
		Help: "Voice playback state transitions, by target state",
	}, []string{"state"})

	DictationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_assistant_dictation_total",
		Help: "Dictation sessions, by outcome",
	}, []string{"outcome"})

	CollaboratorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_assistant_collaborator_requests_total",
		Help: "Calls to remote collaborators, by collaborator and outcome",
	}, []string{"collaborator", "outcome"})

	CollaboratorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shop_assistant_collaborator_latency_seconds",
		Help:    "Latency of calls to remote collaborators",
		Buckets: prometheus.DefBuckets,
	}, []string{"collaborator"})
)

// ObserveCollaborator records one call to a remote collaborator.
func ObserveCollaborator(collaborator string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CollaboratorRequestsTotal.WithLabelValues(collaborator, outcome).Inc()
	CollaboratorLatency.WithLabelValues(collaborator).Observe(time.Since(start).Seconds())
}
