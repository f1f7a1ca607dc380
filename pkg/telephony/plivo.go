package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const plivoAPIBase = "https://api.plivo.com/v1"

// PlivoProvider drives calls through the Plivo Voice REST API.
type PlivoProvider struct {
	client     *resty.Client
	authID     string
	voice      string
	webhookURL string
}

func NewPlivoProvider(authID, authToken, voice, webhookURL string) *PlivoProvider {
	client := resty.New().
		SetBaseURL(plivoAPIBase).
		SetBasicAuth(authID, authToken).
		SetTimeout(15 * time.Second)
	return &PlivoProvider{
		client:     client,
		authID:     authID,
		voice:      voice,
		webhookURL: webhookURL,
	}
}

func (p *PlivoProvider) Kind() Kind { return KindPlivo }

type plivoCallResponse struct {
	RequestUUID string `json:"request_uuid"`
	Message     string `json:"message"`
	Error       string `json:"error"`
}

func (p *PlivoProvider) accountPath(suffix string) string {
	return fmt.Sprintf("/Account/%s%s", p.authID, suffix)
}

func (p *PlivoProvider) InitiateCall(ctx context.Context, req InitiateRequest) (string, error) {
	// Plivo has no inline-markup equivalent; answer XML (including any
	// queued greeting) is served by the answer webhook instead.
	body := map[string]interface{}{
		"to":            req.To,
		"from":          req.From,
		"answer_url":    req.WebhookURL,
		"answer_method": "POST",
		"hangup_url":    req.WebhookURL,
		"hangup_method": "POST",
	}

	var result plivoCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post(p.accountPath("/Call/"))
	if err != nil {
		return "", fmt.Errorf("plivo initiate call: %w", err)
	}
	if resp.IsError() || result.RequestUUID == "" {
		return "", fmt.Errorf("plivo initiate call: status %d: %s", resp.StatusCode(), result.Error)
	}

	logrus.WithFields(logrus.Fields{
		"callId":      req.CallID,
		"requestUuid": result.RequestUUID,
	}).Info("plivo call initiated")
	return result.RequestUUID, nil
}

func (p *PlivoProvider) PlayTTS(ctx context.Context, callID, providerCallID, text string) error {
	var result plivoCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"text":     text,
			"voice":    p.voice,
			"language": "en-US",
		}).
		SetError(&result).
		Post(p.accountPath("/Call/" + providerCallID + "/Speak/"))
	if err != nil {
		return fmt.Errorf("plivo speak: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("plivo speak: status %d: %s", resp.StatusCode(), result.Error)
	}
	return nil
}

func (p *PlivoProvider) StartListening(ctx context.Context, callID, providerCallID string) error {
	var result plivoCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"time_limit":         120,
			"transcription_type": "auto",
			"transcription_url":  p.webhookURL,
			"callback_url":       p.webhookURL,
		}).
		SetError(&result).
		Post(p.accountPath("/Call/" + providerCallID + "/Record/"))
	if err != nil {
		return fmt.Errorf("plivo start record: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("plivo start record: status %d: %s", resp.StatusCode(), result.Error)
	}
	return nil
}

func (p *PlivoProvider) StopListening(ctx context.Context, callID, providerCallID string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		Delete(p.accountPath("/Call/" + providerCallID + "/Record/"))
	if err != nil {
		return fmt.Errorf("plivo stop record: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("plivo stop record: status %d", resp.StatusCode())
	}
	return nil
}

func (p *PlivoProvider) HangupCall(ctx context.Context, callID, providerCallID, reason string) error {
	logrus.WithFields(logrus.Fields{
		"callId":   callID,
		"callUuid": providerCallID,
		"reason":   reason,
	}).Info("plivo hangup")
	resp, err := p.client.R().
		SetContext(ctx).
		Delete(p.accountPath("/Call/" + providerCallID + "/"))
	if err != nil {
		return fmt.Errorf("plivo hangup: %w", err)
	}
	// 404 means the call is already gone; treat as success.
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("plivo hangup: status %d", resp.StatusCode())
	}
	return nil
}

func (p *PlivoProvider) AnswerMarkup(text string) string {
	return PlivoSpeak(p.voice, text)
}
