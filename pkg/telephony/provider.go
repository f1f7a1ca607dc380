// Package telephony abstracts the outbound call operations of heterogeneous
// telephony backends behind a single Provider interface. Two live backends
// (Twilio, Plivo) translate the operations into REST calls and call-control
// markup; the mock backend performs no I/O and exists for offline tests.
package telephony

import (
	"context"
	"fmt"
)

// Kind identifies a telephony backend.
type Kind string

const (
	KindTwilio Kind = "twilio"
	KindPlivo  Kind = "plivo"
	KindMock   Kind = "mock"
)

// ParseKind maps a configured provider name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindTwilio, KindPlivo, KindMock:
		return Kind(name), nil
	}
	return "", fmt.Errorf("unknown telephony provider: %q", name)
}

// InitiateRequest carries everything a backend needs to place one call.
type InitiateRequest struct {
	CallID     string
	From       string
	To         string
	WebhookURL string
	// InlineMarkup, when set, is call-control markup the backend should play
	// as soon as the callee answers, without waiting for the answer webhook
	// round trip. Produced by the same backend's AnswerMarkup.
	InlineMarkup string
}

// Provider is the uniform interface over telephony backends.
type Provider interface {
	Kind() Kind

	// InitiateCall places an outbound call and returns the provider's own
	// identifier for it.
	InitiateCall(ctx context.Context, req InitiateRequest) (string, error)

	// PlayTTS speaks text into an established call.
	PlayTTS(ctx context.Context, callID, providerCallID, text string) error

	// StartListening asks the backend to capture and transcribe callee
	// speech; final transcripts arrive through the webhook.
	StartListening(ctx context.Context, callID, providerCallID string) error

	// StopListening stops an active capture. Best effort.
	StopListening(ctx context.Context, callID, providerCallID string) error

	// HangupCall terminates the call on the provider side.
	HangupCall(ctx context.Context, callID, providerCallID, reason string) error

	// AnswerMarkup renders the backend's call-control markup for speaking
	// text on answer, suitable for InitiateRequest.InlineMarkup.
	AnswerMarkup(text string) string
}
