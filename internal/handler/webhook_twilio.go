package handlers

import (
	"context"
	"net/http"

	"github.com/code-100-precent/LingCall/pkg/events"
	"github.com/code-100-precent/LingCall/pkg/metrics"
	"github.com/code-100-precent/LingCall/pkg/response"
	"github.com/code-100-precent/LingCall/pkg/telephony"
	"github.com/code-100-precent/LingCall/pkg/webhook"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CallEventSink is the slice of the call manager the webhook handlers need.
// All lookups are by provider call id; events for unknown calls are ignored.
type CallEventSink interface {
	SpeakInitialMessage(ctx context.Context, providerCallID string) error
	HandleTranscriptFinal(providerCallID, text string)
	HandleCallEnded(providerCallID, reason string)
	HandleCallFailed(providerCallID, reason string)
	DedupEvent(providerCallID, eventID string) bool
	// RemapProviderCall rebinds a call registered under a provisional
	// provider id (Plivo's request uuid) to the definitive call uuid.
	RemapProviderCall(oldProviderCallID, newProviderCallID string)
}

// TwilioWebhookHandler verifies and routes Twilio status and gather callbacks.
type TwilioWebhookHandler struct {
	sink         CallEventSink
	authToken    string
	publicURL    string
	tunnelCompat bool
	mets         *metrics.Metrics
	bus          *events.Bus
}

func NewTwilioWebhookHandler(sink CallEventSink, authToken, publicURL string, tunnelCompat bool) *TwilioWebhookHandler {
	return &TwilioWebhookHandler{
		sink:         sink,
		authToken:    authToken,
		publicURL:    publicURL,
		tunnelCompat: tunnelCompat,
		mets:         metrics.NewMetrics(),
		bus:          events.Default(),
	}
}

// Handle processes one Twilio callback. Verification happens before any
// state is touched; a rejected request gets a generic 401 with no detail.
func (h *TwilioWebhookHandler) Handle(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		response.Abort(c, http.StatusBadRequest, "Bad request")
		return
	}
	form := c.Request.PostForm

	result := webhook.VerifyTwilio(h.authToken, webhook.TwilioRequest{
		PublicURL:    h.publicURL,
		RawQuery:     c.Request.URL.RawQuery,
		PostForm:     form,
		Signature:    c.GetHeader("X-Twilio-Signature"),
		RemoteAddr:   c.Request.RemoteAddr,
		TunnelCompat: h.tunnelCompat,
	})
	if !result.OK {
		// The rejected counter is fed by the listener subscribed to this
		// event; counting here too would double it.
		h.bus.Publish(events.Event{
			Type:     events.WebhookRejected,
			Provider: "twilio",
			Reason:   result.Reason,
		})
		response.Abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if result.CompatBypass {
		h.mets.WebhookEvent("twilio", "compat")
		logrus.WithField("signedUrl", result.SignedURL).Warn("Twilio signature accepted via compatibility mode")
	} else {
		h.mets.WebhookEvent("twilio", "accepted")
	}

	callSid := form.Get("CallSid")
	status := form.Get("CallStatus")

	// Gather result callbacks carry the callee's speech.
	if speech := form.Get("SpeechResult"); speech != "" {
		h.sink.HandleTranscriptFinal(callSid, speech)
		c.Data(http.StatusOK, "text/xml", []byte(telephony.TwimlHold()))
		return
	}

	// Status callbacks may be retried; the sequence number keys them apart.
	eventID := "status:" + status
	if seq := form.Get("SequenceNumber"); seq != "" {
		eventID += ":" + seq
	}
	if !h.sink.DedupEvent(callSid, eventID) {
		c.Data(http.StatusOK, "text/xml", []byte(telephony.TwimlHold()))
		return
	}

	switch status {
	case "in-progress", "answered":
		if err := h.sink.SpeakInitialMessage(c.Request.Context(), callSid); err != nil {
			logrus.WithError(err).WithField("callSid", callSid).Error("Failed to speak initial message")
		}
	case "completed":
		h.sink.HandleCallEnded(callSid, "completed")
	case "busy", "failed", "no-answer", "canceled":
		h.sink.HandleCallFailed(callSid, status)
	}

	c.Data(http.StatusOK, "text/xml", []byte(telephony.TwimlHold()))
}
