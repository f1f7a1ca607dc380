package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/code-100-precent/LingCall/internal/models"
	"github.com/code-100-precent/LingCall/pkg/callmgr"
	"github.com/code-100-precent/LingCall/pkg/metrics"
	"github.com/code-100-precent/LingCall/pkg/response"
	"github.com/code-100-precent/LingCall/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CallService is the slice of the call manager the agent API needs.
type CallService interface {
	Initiate(ctx context.Context, to, sessionKey string, opts callmgr.InitiateOptions) (string, error)
	Speak(ctx context.Context, callID, text string) error
	ContinueCall(ctx context.Context, callID, prompt string) (string, error)
	EndCall(ctx context.Context, callID string) error
	Snapshot(callID string) (*callmgr.CallRecord, bool)
}

// CallHandler serves the agent-facing call API.
type CallHandler struct {
	db    *gorm.DB
	calls CallService
	mets  *metrics.Metrics
}

func NewCallHandler(db *gorm.DB, calls CallService) *CallHandler {
	return &CallHandler{db: db, calls: calls, mets: metrics.NewMetrics()}
}

// InitiateCallRequest starts an outbound call.
type InitiateCallRequest struct {
	To         string `json:"to" binding:"required"`
	Message    string `json:"message,omitempty"`
	Mode       string `json:"mode,omitempty"` // conversation | notify
	SessionKey string `json:"sessionKey,omitempty"`
}

// InitiateCallResponse reports the new call.
type InitiateCallResponse struct {
	CallID string `json:"callId"`
	State  string `json:"state"`
}

func (h *CallHandler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "Invalid request: "+err.Error(), nil)
		return
	}

	mode := callmgr.Mode(req.Mode)
	switch mode {
	case "", callmgr.ModeConversation, callmgr.ModeNotify:
	default:
		response.Fail(c, "mode must be conversation or notify", nil)
		return
	}

	sessionKey := req.SessionKey
	if sessionKey == "" {
		sessionKey = utils.RandText(16)
	}

	callID, err := h.calls.Initiate(c.Request.Context(), req.To, sessionKey, callmgr.InitiateOptions{
		Message: req.Message,
		Mode:    mode,
	})
	if err != nil {
		switch {
		case errors.Is(err, callmgr.ErrConcurrencyLimitExceeded):
			response.Abort(c, http.StatusTooManyRequests, err.Error())
		default:
			var perr *callmgr.ProviderRequestError
			if errors.As(err, &perr) {
				logrus.WithError(err).Error("Failed to place outbound call")
				response.Abort(c, http.StatusBadGateway, "Failed to place call")
				return
			}
			response.Fail(c, err.Error(), nil)
		}
		return
	}

	response.Success(c, "Call initiated successfully", InitiateCallResponse{
		CallID: callID,
		State:  string(callmgr.StateInitiated),
	})
}

// SpeakRequest plays text into a live call.
type SpeakRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *CallHandler) Speak(c *gin.Context) {
	callID := c.Param("callId")
	var req SpeakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "Invalid request: "+err.Error(), nil)
		return
	}

	if err := h.calls.Speak(c.Request.Context(), callID, req.Text); err != nil {
		h.callError(c, err)
		return
	}
	response.Success(c, "Success", nil)
}

// ContinueRequest speaks a prompt and waits for the callee's reply.
type ContinueRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// ContinueResponse carries the callee's final transcript.
type ContinueResponse struct {
	Transcript string `json:"transcript"`
}

func (h *CallHandler) ContinueCall(c *gin.Context) {
	callID := c.Param("callId")
	var req ContinueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "Invalid request: "+err.Error(), nil)
		return
	}

	transcript, err := h.calls.ContinueCall(c.Request.Context(), callID, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, callmgr.ErrTranscriptTimeout):
			h.mets.TranscriptWait("timeout")
			response.Abort(c, http.StatusGatewayTimeout, err.Error())
		case errors.Is(err, callmgr.ErrWaitSuperseded):
			h.mets.TranscriptWait("superseded")
			response.Fail(c, err.Error(), nil)
		case errors.Is(err, callmgr.ErrCallEnded):
			h.mets.TranscriptWait("ended")
			response.Fail(c, "Call already ended", nil)
		default:
			h.callError(c, err)
		}
		return
	}
	h.mets.TranscriptWait("resolved")
	response.Success(c, "Success", ContinueResponse{Transcript: transcript})
}

func (h *CallHandler) Hangup(c *gin.Context) {
	callID := c.Param("callId")
	if err := h.calls.EndCall(c.Request.Context(), callID); err != nil {
		h.callError(c, err)
		return
	}
	response.Success(c, "Call hung up successfully", nil)
}

// GetCall returns the live record when the call is active, falling back to
// the persisted row for ended calls.
func (h *CallHandler) GetCall(c *gin.Context) {
	callID := c.Param("callId")

	if rec, ok := h.calls.Snapshot(callID); ok {
		response.Success(c, "Success", rec)
		return
	}

	row, err := models.GetCallRecord(h.db, callID)
	if err != nil {
		response.Abort(c, http.StatusNotFound, "Call not found")
		return
	}
	response.Success(c, "Success", row)
}

func (h *CallHandler) ListCalls(c *gin.Context) {
	state := c.Query("state")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rows, err := models.ListCallRecords(h.db, state, limit, offset)
	if err != nil {
		logrus.WithError(err).Error("Failed to list call records")
		response.Fail(c, "Failed to list calls: "+err.Error(), nil)
		return
	}
	response.Success(c, "Success", rows)
}

// callError maps call manager errors onto HTTP semantics.
func (h *CallHandler) callError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, callmgr.ErrCallNotFound):
		response.Abort(c, http.StatusNotFound, "Call not found")
	case errors.Is(err, callmgr.ErrCallEnded):
		response.Fail(c, "Call already ended", nil)
	case errors.Is(err, callmgr.ErrCallNotConnected):
		response.Fail(c, "Call not connected yet", nil)
	default:
		var perr *callmgr.ProviderRequestError
		if errors.As(err, &perr) {
			logrus.WithError(err).Error("Provider request failed")
			response.Abort(c, http.StatusBadGateway, "Provider request failed")
			return
		}
		response.Fail(c, err.Error(), nil)
	}
}
