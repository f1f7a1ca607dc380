package telephony

import (
	"context"
	"sync"
)

// MockCall records one operation the mock backend received.
type MockCall struct {
	Op             string // initiate, play, listen-start, listen-stop, hangup
	CallID         string
	ProviderCallID string
	Text           string
	Reason         string
}

// MockProvider is a deterministic in-memory backend for offline tests. It
// never performs I/O; provider call ids are derived from the internal call id.
type MockProvider struct {
	mu    sync.Mutex
	calls []MockCall

	// InitiateErr, when set, makes InitiateCall fail.
	InitiateErr error
	// PlayErr, when set, makes PlayTTS fail.
	PlayErr error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Kind() Kind { return KindMock }

// MockProviderCallID derives the synthetic provider id for a call.
func MockProviderCallID(callID string) string {
	return "mock-" + callID
}

func (p *MockProvider) record(c MockCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

// Calls returns a copy of all recorded operations.
func (p *MockProvider) Calls() []MockCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MockCall(nil), p.calls...)
}

// CallsOf returns recorded operations of one kind.
func (p *MockProvider) CallsOf(op string) []MockCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []MockCall
	for _, c := range p.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (p *MockProvider) InitiateCall(ctx context.Context, req InitiateRequest) (string, error) {
	if p.InitiateErr != nil {
		return "", p.InitiateErr
	}
	p.record(MockCall{Op: "initiate", CallID: req.CallID, Text: req.InlineMarkup})
	return MockProviderCallID(req.CallID), nil
}

func (p *MockProvider) PlayTTS(ctx context.Context, callID, providerCallID, text string) error {
	if p.PlayErr != nil {
		return p.PlayErr
	}
	p.record(MockCall{Op: "play", CallID: callID, ProviderCallID: providerCallID, Text: text})
	return nil
}

func (p *MockProvider) StartListening(ctx context.Context, callID, providerCallID string) error {
	p.record(MockCall{Op: "listen-start", CallID: callID, ProviderCallID: providerCallID})
	return nil
}

func (p *MockProvider) StopListening(ctx context.Context, callID, providerCallID string) error {
	p.record(MockCall{Op: "listen-stop", CallID: callID, ProviderCallID: providerCallID})
	return nil
}

func (p *MockProvider) HangupCall(ctx context.Context, callID, providerCallID, reason string) error {
	p.record(MockCall{Op: "hangup", CallID: callID, ProviderCallID: providerCallID, Reason: reason})
	return nil
}

func (p *MockProvider) AnswerMarkup(text string) string {
	return "<mock>" + text + "</mock>"
}
