package handlers

import (
	"net/http"
	"net/url"

	"github.com/code-100-precent/LingCall/pkg/events"
	"github.com/code-100-precent/LingCall/pkg/metrics"
	"github.com/code-100-precent/LingCall/pkg/response"
	"github.com/code-100-precent/LingCall/pkg/telephony"
	"github.com/code-100-precent/LingCall/pkg/webhook"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PlivoWebhookHandler verifies and routes Plivo answer, hangup and
// transcription callbacks. V3 signatures are preferred when present, V2
// otherwise.
type PlivoWebhookHandler struct {
	sink      CallEventSink
	authToken string
	publicURL string
	mets      *metrics.Metrics
	bus       *events.Bus
}

func NewPlivoWebhookHandler(sink CallEventSink, authToken, publicURL string) *PlivoWebhookHandler {
	return &PlivoWebhookHandler{
		sink:      sink,
		authToken: authToken,
		publicURL: publicURL,
		mets:      metrics.NewMetrics(),
		bus:       events.Default(),
	}
}

// requestURL reconstructs the public URL Plivo signed, completing the
// configured URL with the request's own query string when needed.
func (h *PlivoWebhookHandler) requestURL(c *gin.Context) string {
	full := h.publicURL
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		if u, err := url.Parse(full); err == nil && u.RawQuery == "" {
			full += "?" + rawQuery
		}
	}
	return full
}

func (h *PlivoWebhookHandler) verify(c *gin.Context, form url.Values) webhook.Result {
	fullURL := h.requestURL(c)

	if sig := c.GetHeader("X-Plivo-Signature-V3"); sig != "" {
		return webhook.VerifyPlivoV3(h.authToken, webhook.PlivoRequest{
			URL:       fullURL,
			PostForm:  form,
			Nonce:     c.GetHeader("X-Plivo-Signature-V3-Nonce"),
			Signature: sig,
		})
	}
	return webhook.VerifyPlivoV2(h.authToken, webhook.PlivoRequest{
		URL:       fullURL,
		Nonce:     c.GetHeader("X-Plivo-Signature-V2-Nonce"),
		Signature: c.GetHeader("X-Plivo-Signature-V2"),
	})
}

// Handle processes one Plivo callback. Verification happens before any state
// is touched; a rejected request gets a generic 401 with no detail.
func (h *PlivoWebhookHandler) Handle(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		response.Abort(c, http.StatusBadRequest, "Bad request")
		return
	}
	form := c.Request.PostForm

	result := h.verify(c, form)
	if !result.OK {
		// The rejected counter is fed by the listener subscribed to this
		// event; counting here too would double it.
		h.bus.Publish(events.Event{
			Type:     events.WebhookRejected,
			Provider: "plivo",
			Reason:   result.Reason,
		})
		response.Abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.mets.WebhookEvent("plivo", "accepted")

	callUUID := form.Get("CallUUID")
	status := form.Get("CallStatus")

	// Initiate responses carry only a request uuid; the first webhook with
	// both identifiers rebinds the call to its call uuid, which later
	// webhooks and REST operations are addressed by.
	if requestUUID := form.Get("RequestUUID"); requestUUID != "" && callUUID != "" {
		h.sink.RemapProviderCall(requestUUID, callUUID)
	}

	// Transcription callbacks carry the callee's speech.
	if text := form.Get("TranscriptionText"); text != "" {
		h.sink.HandleTranscriptFinal(callUUID, text)
		c.Data(http.StatusOK, "application/xml", []byte(telephony.PlivoWait()))
		return
	}

	if !h.sink.DedupEvent(callUUID, "status:"+status) {
		c.Data(http.StatusOK, "application/xml", []byte(telephony.PlivoWait()))
		return
	}

	switch status {
	case "in-progress", "answer":
		if err := h.sink.SpeakInitialMessage(c.Request.Context(), callUUID); err != nil {
			logrus.WithError(err).WithField("callUuid", callUUID).Error("Failed to speak initial message")
		}
	case "completed":
		reason := form.Get("HangupCause")
		if reason == "" {
			reason = "completed"
		}
		h.sink.HandleCallEnded(callUUID, reason)
	case "busy", "failed", "no-answer", "cancel", "timeout":
		h.sink.HandleCallFailed(callUUID, status)
	}

	c.Data(http.StatusOK, "application/xml", []byte(telephony.PlivoWait()))
}
