package handlers

import (
	"github.com/code-100-precent/LingCall/pkg/config"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handlers aggregates the HTTP surface: the agent call API under the API
// prefix and the provider webhook endpoints at the root.
type Handlers struct {
	call   *CallHandler
	twilio *TwilioWebhookHandler
	plivo  *PlivoWebhookHandler
}

// WebhookEndpoints are the public URLs the providers post callbacks to; they
// double as the base of signature verification.
type WebhookEndpoints struct {
	Twilio string
	Plivo  string
}

func NewHandlers(db *gorm.DB, calls CallService, sink CallEventSink, endpoints WebhookEndpoints) *Handlers {
	cfg := config.GlobalConfig
	return &Handlers{
		call:   NewCallHandler(db, calls),
		twilio: NewTwilioWebhookHandler(sink, cfg.TwilioAuthToken, endpoints.Twilio, cfg.TwilioTunnelCompat),
		plivo:  NewPlivoWebhookHandler(sink, cfg.PlivoAuthToken, endpoints.Plivo),
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	r := engine.Group(config.GlobalConfig.APIPrefix)

	calls := r.Group("/calls")
	{
		calls.POST("", h.call.InitiateCall)
		calls.GET("", h.call.ListCalls)
		calls.GET("/:callId", h.call.GetCall)
		calls.POST("/:callId/speak", h.call.Speak)
		calls.POST("/:callId/continue", h.call.ContinueCall)
		calls.POST("/:callId/hangup", h.call.Hangup)
	}

	// Providers cannot be pointed at the API prefix; webhooks live at the root.
	webhooks := engine.Group("/webhooks")
	{
		webhooks.POST("/twilio", h.twilio.Handle)
		webhooks.POST("/plivo", h.plivo.Handle)
	}
}
