package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsSingleton(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)
	assert.Same(t, m, NewMetrics())
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()
	m.CallInitiated("mock")
	m.CallEnded("mock", "hangup-bot", 42.5)
	m.CallEnded("mock", "failed", 0)
	m.WebhookEvent("twilio", "accepted")
	m.WebhookEvent("plivo", "rejected")
	m.TranscriptWait("resolved")
	m.TranscriptWait("timeout")
}

func TestHandlerServesExposition(t *testing.T) {
	gin.SetMode(gin.TestMode)
	NewMetrics().CallInitiated("mock")

	router := gin.New()
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lingcall_calls_initiated_total")
}
