package events

import (
	"sync"
	"time"

	"github.com/code-100-precent/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// Type of a call lifecycle event.
type Type string

const (
	CallInitiated   Type = "call.initiated"
	CallAnswered    Type = "call.answered"
	CallEnded       Type = "call.ended"
	WebhookRejected Type = "webhook.rejected"
)

// Event describes one call lifecycle transition.
type Event struct {
	Type     Type   `json:"type"`
	CallID   string `json:"callId,omitempty"`
	Provider string `json:"provider,omitempty"`
	State    string `json:"state,omitempty"`
	Reason   string `json:"reason,omitempty"`
	// DurationSec is the call lifetime, set on call.ended events.
	DurationSec float64   `json:"durationSec,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Handler receives events. Handlers run asynchronously; slow handlers do not
// block publishers.
type Handler func(event Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is a minimal in-process pub/sub for call events.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Type][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Type][]subscription)}
}

var (
	defaultBus  *Bus
	defaultOnce sync.Once
)

// Default returns the process-wide bus.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = NewBus()
	})
	return defaultBus
}

// Subscribe registers a handler for an event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, s := range subs {
			if s.id == id {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to all subscribers of its type, asynchronously.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event.Type]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	logger.Debug("publishing event",
		zap.String("eventType", string(event.Type)),
		zap.String("callId", event.CallID),
		zap.Int("handlerCount", len(subs)))

	for _, s := range subs {
		go s.handler(event)
	}
}
