package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/code-100-precent/LingCall/internal/listeners"
	"github.com/code-100-precent/LingCall/pkg/events"
	"github.com/code-100-precent/LingCall/pkg/metrics"
	"github.com/code-100-precent/LingCall/pkg/webhook"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records which call manager operations the webhook handlers routed.
type fakeSink struct {
	mu          sync.Mutex
	answered    []string
	transcripts map[string]string
	ended       map[string]string
	failed      map[string]string
	seen        map[string]bool
	remaps      map[string]string
}

func (f *fakeSink) SpeakInitialMessage(ctx context.Context, providerCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, providerCallID)
	return nil
}

func (f *fakeSink) HandleTranscriptFinal(providerCallID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transcripts == nil {
		f.transcripts = make(map[string]string)
	}
	f.transcripts[providerCallID] = text
}

func (f *fakeSink) HandleCallEnded(providerCallID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended == nil {
		f.ended = make(map[string]string)
	}
	f.ended[providerCallID] = reason
}

func (f *fakeSink) HandleCallFailed(providerCallID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[providerCallID] = reason
}

func (f *fakeSink) DedupEvent(providerCallID, eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := providerCallID + "|" + eventID
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}

func (f *fakeSink) RemapProviderCall(oldID, newID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaps == nil {
		f.remaps = make(map[string]string)
	}
	f.remaps[oldID] = newID
}

const (
	twilioToken = "tw-auth-token"
	twilioURL   = "https://example.com/webhooks/twilio"
	plivoToken  = "pl-auth-token"
	plivoURL    = "https://example.com/webhooks/plivo"
)

func setupTwilioRouter(sink *fakeSink, tunnelCompat bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewTwilioWebhookHandler(sink, twilioToken, twilioURL, tunnelCompat)
	engine.POST("/webhooks/twilio", h.Handle)
	return engine
}

func postTwilio(router *gin.Engine, form url.Values, signature string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTwilioWebhookAnswered(t *testing.T) {
	sink := &fakeSink{}
	router := setupTwilioRouter(sink, false)

	form := url.Values{
		"CallSid":    {"CA100"},
		"CallStatus": {"in-progress"},
	}
	w := postTwilio(router, form, webhook.SignTwilio(twilioToken, twilioURL, form))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Pause")
	assert.Equal(t, []string{"CA100"}, sink.answered)
}

func TestTwilioWebhookRejectsBadSignature(t *testing.T) {
	sink := &fakeSink{}
	router := setupTwilioRouter(sink, false)

	form := url.Values{
		"CallSid":    {"CA100"},
		"CallStatus": {"in-progress"},
	}
	w := postTwilio(router, form, "not-the-signature")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sink.answered)

	// Missing header is rejected the same way.
	w = postTwilio(router, form, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTwilioWebhookSpeechResult(t *testing.T) {
	sink := &fakeSink{}
	router := setupTwilioRouter(sink, false)

	form := url.Values{
		"CallSid":      {"CA100"},
		"SpeechResult": {"book a table for two"},
	}
	w := postTwilio(router, form, webhook.SignTwilio(twilioToken, twilioURL, form))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "book a table for two", sink.transcripts["CA100"])
}

func TestTwilioWebhookTerminalStatuses(t *testing.T) {
	sink := &fakeSink{}
	router := setupTwilioRouter(sink, false)

	form := url.Values{
		"CallSid":    {"CA100"},
		"CallStatus": {"completed"},
	}
	postTwilio(router, form, webhook.SignTwilio(twilioToken, twilioURL, form))
	assert.Equal(t, "completed", sink.ended["CA100"])

	form = url.Values{
		"CallSid":    {"CA200"},
		"CallStatus": {"busy"},
	}
	postTwilio(router, form, webhook.SignTwilio(twilioToken, twilioURL, form))
	assert.Equal(t, "busy", sink.failed["CA200"])
}

func TestTwilioWebhookDedupsRetries(t *testing.T) {
	sink := &fakeSink{}
	router := setupTwilioRouter(sink, false)

	form := url.Values{
		"CallSid":        {"CA100"},
		"CallStatus":     {"completed"},
		"SequenceNumber": {"4"},
	}
	sig := webhook.SignTwilio(twilioToken, twilioURL, form)

	w := postTwilio(router, form, sig)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "completed", sink.ended["CA100"])

	// The retry is acknowledged but not re-routed.
	delete(sink.ended, "CA100")
	w = postTwilio(router, form, sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sink.ended)
}

func TestTwilioWebhookTunnelCompatLoopbackOnly(t *testing.T) {
	sink := &fakeSink{}
	router := setupTwilioRouter(sink, true)

	form := url.Values{
		"CallSid":    {"CA100"},
		"CallStatus": {"in-progress"},
	}
	req, _ := http.NewRequest("POST", "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "garbage")
	req.RemoteAddr = "127.0.0.1:52222"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"CA100"}, sink.answered)

	// Same request from a non-loopback address stays rejected.
	req, _ = http.NewRequest("POST", "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "garbage")
	req.RemoteAddr = "203.0.113.9:44000"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRejectedWebhookCountedOnce(t *testing.T) {
	mets := metrics.NewMetrics()
	unsubscribe := listeners.InitCallListeners(events.Default(), mets)
	defer unsubscribe()

	rejected := mets.WebhookEvents.WithLabelValues("twilio", "rejected")
	before := testutil.ToFloat64(rejected)

	router := setupTwilioRouter(&fakeSink{}, false)
	form := url.Values{
		"CallSid":    {"CA900"},
		"CallStatus": {"in-progress"},
	}
	w := postTwilio(router, form, "not-the-signature")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// The listener counts the rejection exactly once.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(rejected) == before+1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(rejected))
}

func setupPlivoRouter(sink *fakeSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewPlivoWebhookHandler(sink, plivoToken, plivoURL)
	engine.POST("/webhooks/plivo", h.Handle)
	return engine
}

func postPlivo(router *gin.Engine, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/webhooks/plivo", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPlivoWebhookV2Hangup(t *testing.T) {
	sink := &fakeSink{}
	router := setupPlivoRouter(sink)

	nonce := "n-12345"
	sig, ok := webhook.SignPlivoV2(plivoToken, plivoURL, nonce)
	require.True(t, ok)

	form := url.Values{
		"CallUUID":    {"uuid-1"},
		"CallStatus":  {"completed"},
		"HangupCause": {"NORMAL_CLEARING"},
	}
	w := postPlivo(router, form, map[string]string{
		"X-Plivo-Signature-V2":       sig,
		"X-Plivo-Signature-V2-Nonce": nonce,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NORMAL_CLEARING", sink.ended["uuid-1"])
}

func TestPlivoWebhookV3Answer(t *testing.T) {
	sink := &fakeSink{}
	router := setupPlivoRouter(sink)

	nonce := "n-67890"
	form := url.Values{
		"CallUUID":   {"uuid-2"},
		"CallStatus": {"in-progress"},
	}
	sig, ok := webhook.SignPlivoV3(plivoToken, plivoURL, form, nonce)
	require.True(t, ok)

	w := postPlivo(router, form, map[string]string{
		"X-Plivo-Signature-V3":       sig,
		"X-Plivo-Signature-V3-Nonce": nonce,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Wait")
	assert.Equal(t, []string{"uuid-2"}, sink.answered)
}

func TestPlivoWebhookRemapsRequestUUID(t *testing.T) {
	sink := &fakeSink{}
	router := setupPlivoRouter(sink)

	// The answer callback carries both the request uuid the call was placed
	// under and the call uuid every later event is addressed by.
	nonce := "n-808"
	form := url.Values{
		"RequestUUID": {"req-7"},
		"CallUUID":    {"uuid-7"},
		"CallStatus":  {"in-progress"},
	}
	sig, ok := webhook.SignPlivoV3(plivoToken, plivoURL, form, nonce)
	require.True(t, ok)

	w := postPlivo(router, form, map[string]string{
		"X-Plivo-Signature-V3":       sig,
		"X-Plivo-Signature-V3-Nonce": nonce,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "uuid-7", sink.remaps["req-7"])
	// Routing happens by call uuid after the rebind.
	assert.Equal(t, []string{"uuid-7"}, sink.answered)
}

func TestPlivoWebhookRejectsBadSignature(t *testing.T) {
	sink := &fakeSink{}
	router := setupPlivoRouter(sink)

	form := url.Values{
		"CallUUID":   {"uuid-3"},
		"CallStatus": {"completed"},
	}

	// Wrong V2 signature.
	w := postPlivo(router, form, map[string]string{
		"X-Plivo-Signature-V2":       "bogus",
		"X-Plivo-Signature-V2-Nonce": "n-1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// No signature headers at all.
	w = postPlivo(router, form, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, sink.ended)
}

func TestPlivoWebhookTranscription(t *testing.T) {
	sink := &fakeSink{}
	router := setupPlivoRouter(sink)

	nonce := "n-555"
	form := url.Values{
		"CallUUID":          {"uuid-4"},
		"TranscriptionText": {"two tickets please"},
	}
	sig, ok := webhook.SignPlivoV3(plivoToken, plivoURL, form, nonce)
	require.True(t, ok)

	w := postPlivo(router, form, map[string]string{
		"X-Plivo-Signature-V3":       sig,
		"X-Plivo-Signature-V3-Nonce": nonce,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "two tickets please", sink.transcripts["uuid-4"])
}

func TestPlivoWebhookDedupsRetries(t *testing.T) {
	sink := &fakeSink{}
	router := setupPlivoRouter(sink)

	nonce := "n-777"
	sig, ok := webhook.SignPlivoV2(plivoToken, plivoURL, nonce)
	require.True(t, ok)
	headers := map[string]string{
		"X-Plivo-Signature-V2":       sig,
		"X-Plivo-Signature-V2-Nonce": nonce,
	}
	form := url.Values{
		"CallUUID":   {"uuid-5"},
		"CallStatus": {"completed"},
	}

	postPlivo(router, form, headers)
	require.Equal(t, "completed", sink.ended["uuid-5"])

	delete(sink.ended, "uuid-5")
	w := postPlivo(router, form, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, sink.ended)
}
