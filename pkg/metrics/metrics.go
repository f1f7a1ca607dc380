// Package metrics exposes Prometheus instrumentation for the call manager:
// call lifecycle counters, webhook verification outcomes and transcript wait
// results.
package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of the service. Collectors register with the
// default Prometheus registry on first construction.
type Metrics struct {
	// CallsInitiated counts placed calls. Labels: provider.
	CallsInitiated *prometheus.CounterVec

	// CallsEnded counts terminal transitions. Labels: provider, state
	// (hangup-bot|hangup-remote|failed|timeout).
	CallsEnded *prometheus.CounterVec

	// ActiveCalls is the current number of live calls. Labels: provider.
	ActiveCalls *prometheus.GaugeVec

	// CallDuration measures call lifetime in seconds. Labels: provider.
	CallDuration *prometheus.HistogramVec

	// WebhookEvents counts inbound webhook requests. Labels: provider,
	// result (accepted|rejected|compat).
	WebhookEvents *prometheus.CounterVec

	// TranscriptWaits counts continue-call outcomes. Labels: outcome
	// (resolved|timeout|superseded|ended).
	TranscriptWaits *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// NewMetrics returns the process-wide metrics set. Safe to call repeatedly;
// registration happens once.
func NewMetrics() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			CallsInitiated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lingcall_calls_initiated_total",
					Help: "Total number of outbound calls placed, by provider",
				},
				[]string{"provider"},
			),
			CallsEnded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lingcall_calls_ended_total",
					Help: "Total number of calls reaching a terminal state, by provider and state",
				},
				[]string{"provider", "state"},
			),
			ActiveCalls: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "lingcall_active_calls",
					Help: "Current number of live calls, by provider",
				},
				[]string{"provider"},
			),
			CallDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "lingcall_call_duration_seconds",
					Help:    "Call lifetime in seconds",
					Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
				},
				[]string{"provider"},
			),
			WebhookEvents: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lingcall_webhook_events_total",
					Help: "Inbound webhook requests, by provider and verification result",
				},
				[]string{"provider", "result"},
			),
			TranscriptWaits: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lingcall_transcript_waits_total",
					Help: "Continue-call transcript wait outcomes",
				},
				[]string{"outcome"},
			),
		}
	})
	return instance
}

// CallInitiated records a placed call.
func (m *Metrics) CallInitiated(provider string) {
	m.CallsInitiated.WithLabelValues(provider).Inc()
	m.ActiveCalls.WithLabelValues(provider).Inc()
}

// CallEnded records a terminal transition and the call's lifetime.
func (m *Metrics) CallEnded(provider, state string, durationSeconds float64) {
	m.CallsEnded.WithLabelValues(provider, state).Inc()
	m.ActiveCalls.WithLabelValues(provider).Dec()
	if durationSeconds > 0 {
		m.CallDuration.WithLabelValues(provider).Observe(durationSeconds)
	}
}

// WebhookEvent records one inbound webhook verification result.
func (m *Metrics) WebhookEvent(provider, result string) {
	m.WebhookEvents.WithLabelValues(provider, result).Inc()
}

// TranscriptWait records one continue-call outcome.
func (m *Metrics) TranscriptWait(outcome string) {
	m.TranscriptWaits.WithLabelValues(outcome).Inc()
}

// Handler serves the default registry in Prometheus exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
