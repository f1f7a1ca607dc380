package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioProvider drives calls through the Twilio Voice REST API.
type TwilioProvider struct {
	client     *resty.Client
	accountSID string
	voice      string
	webhookURL string
}

func NewTwilioProvider(accountSID, authToken, voice, webhookURL string) *TwilioProvider {
	client := resty.New().
		SetBaseURL(twilioAPIBase).
		SetBasicAuth(accountSID, authToken).
		SetTimeout(15 * time.Second)
	return &TwilioProvider{
		client:     client,
		accountSID: accountSID,
		voice:      voice,
		webhookURL: webhookURL,
	}
}

func (p *TwilioProvider) Kind() Kind { return KindTwilio }

type twilioCallResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p *TwilioProvider) callsPath() string {
	return fmt.Sprintf("/Accounts/%s/Calls.json", p.accountSID)
}

func (p *TwilioProvider) callPath(providerCallID string) string {
	return fmt.Sprintf("/Accounts/%s/Calls/%s.json", p.accountSID, providerCallID)
}

func (p *TwilioProvider) InitiateCall(ctx context.Context, req InitiateRequest) (string, error) {
	form := map[string]string{
		"To":                   req.To,
		"From":                 req.From,
		"StatusCallback":       req.WebhookURL,
		"StatusCallbackEvent":  "initiated ringing answered completed",
		"StatusCallbackMethod": "POST",
	}
	if req.InlineMarkup != "" {
		// Inline TwiML plays the greeting on answer without waiting for the
		// answer webhook round trip.
		form["Twiml"] = req.InlineMarkup
	} else {
		form["Url"] = req.WebhookURL
		form["Method"] = "POST"
	}

	var result twilioCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		SetError(&result).
		Post(p.callsPath())
	if err != nil {
		return "", fmt.Errorf("twilio initiate call: %w", err)
	}
	if resp.IsError() || result.Sid == "" {
		return "", fmt.Errorf("twilio initiate call: status %d: %s", resp.StatusCode(), result.Message)
	}

	logrus.WithFields(logrus.Fields{
		"callId": req.CallID,
		"sid":    result.Sid,
	}).Info("twilio call initiated")
	return result.Sid, nil
}

// updateCall replaces the in-progress call's TwiML.
func (p *TwilioProvider) updateCall(ctx context.Context, providerCallID string, form map[string]string) error {
	var result twilioCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&result).
		SetError(&result).
		Post(p.callPath(providerCallID))
	if err != nil {
		return fmt.Errorf("twilio update call: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("twilio update call: status %d: %s", resp.StatusCode(), result.Message)
	}
	return nil
}

func (p *TwilioProvider) PlayTTS(ctx context.Context, callID, providerCallID, text string) error {
	return p.updateCall(ctx, providerCallID, map[string]string{
		"Twiml": TwimlSay(p.voice, text),
	})
}

func (p *TwilioProvider) StartListening(ctx context.Context, callID, providerCallID string) error {
	// The Gather action posts SpeechResult back to the webhook URL, which the
	// webhook handler turns into a final-transcript event.
	return p.updateCall(ctx, providerCallID, map[string]string{
		"Twiml": twimlGather(p.webhookURL),
	})
}

func (p *TwilioProvider) StopListening(ctx context.Context, callID, providerCallID string) error {
	return p.updateCall(ctx, providerCallID, map[string]string{
		"Twiml": TwimlHold(),
	})
}

func (p *TwilioProvider) HangupCall(ctx context.Context, callID, providerCallID, reason string) error {
	logrus.WithFields(logrus.Fields{
		"callId": callID,
		"sid":    providerCallID,
		"reason": reason,
	}).Info("twilio hangup")
	return p.updateCall(ctx, providerCallID, map[string]string{
		"Status": "completed",
	})
}

func (p *TwilioProvider) AnswerMarkup(text string) string {
	return TwimlSay(p.voice, text)
}
