// Package listeners wires call lifecycle events to metrics and logs.
package listeners

import (
	"github.com/code-100-precent/LingCall/pkg/events"
	"github.com/code-100-precent/LingCall/pkg/logger"
	"github.com/code-100-precent/LingCall/pkg/metrics"
	"go.uber.org/zap"
)

// InitCallListeners subscribes the metrics recorders to the event bus.
// Returns an unsubscribe function for tests.
func InitCallListeners(bus *events.Bus, m *metrics.Metrics) func() {
	unsubInitiated := bus.Subscribe(events.CallInitiated, func(e events.Event) {
		m.CallInitiated(e.Provider)
		logger.Info("call initiated",
			zap.String("callId", e.CallID),
			zap.String("provider", e.Provider))
	})

	unsubEnded := bus.Subscribe(events.CallEnded, func(e events.Event) {
		m.CallEnded(e.Provider, e.State, e.DurationSec)
		logger.Info("call ended",
			zap.String("callId", e.CallID),
			zap.String("provider", e.Provider),
			zap.String("state", e.State),
			zap.String("reason", e.Reason),
			zap.Float64("durationSec", e.DurationSec))
	})

	unsubRejected := bus.Subscribe(events.WebhookRejected, func(e events.Event) {
		m.WebhookEvent(e.Provider, "rejected")
		logger.Warn("webhook rejected",
			zap.String("provider", e.Provider),
			zap.String("reason", e.Reason))
	})

	return func() {
		unsubInitiated()
		unsubEnded()
		unsubRejected()
	}
}
