package callmgr

import (
	"time"

	"github.com/spf13/cast"
)

// State of a call in its lifecycle.
type State string

const (
	StateInitiated    State = "initiated"
	StateSpeaking     State = "speaking"
	StateListening    State = "listening"
	StateHangupBot    State = "hangup-bot"
	StateHangupRemote State = "hangup-remote"
	StateFailed       State = "failed"
	StateTimeout      State = "timeout"
)

// TerminalStates is the set of states from which no further transition is
// permitted; shared by every provider, the mock included.
var TerminalStates = map[State]bool{
	StateHangupBot:    true,
	StateHangupRemote: true,
	StateFailed:       true,
	StateTimeout:      true,
}

// Terminal reports whether the state permits no further transition.
func (s State) Terminal() bool { return TerminalStates[s] }

// Direction of a call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Mode of an outbound call.
type Mode string

const (
	// ModeConversation keeps the call open for a speak/listen loop.
	ModeConversation Mode = "conversation"
	// ModeNotify speaks one message and then hangs up automatically.
	ModeNotify Mode = "notify"
)

// Role of a transcript entry author.
type Role string

const (
	RoleBot  Role = "bot"
	RoleUser Role = "user"
)

// TranscriptEntry is one utterance in a call. Entries are append-only,
// ordered, never mutated or removed.
type TranscriptEntry struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Metadata keys. The initial message is one-shot: consumed (deleted) the
// first time it is spoken.
const (
	metaInitialMessage = "initialMessage"
	metaMode           = "mode"
)

// maxProcessedEventIDs caps the per-record dedup window.
const maxProcessedEventIDs = 256

// CallRecord is the state of one call. All mutation happens under the
// manager's per-call lock; the record itself carries no synchronization.
type CallRecord struct {
	CallID            string                 `json:"callId"`
	Provider          string                 `json:"provider"`
	Direction         Direction              `json:"direction"`
	State             State                  `json:"state"`
	From              string                 `json:"from"`
	To                string                 `json:"to"`
	SessionKey        string                 `json:"sessionKey,omitempty"`
	StartedAt         time.Time              `json:"startedAt"`
	EndedAt           *time.Time             `json:"endedAt,omitempty"`
	EndReason         string                 `json:"endReason,omitempty"`
	ProviderCallID    string                 `json:"providerCallId,omitempty"`
	Transcript        []TranscriptEntry      `json:"transcript"`
	ProcessedEventIDs []string               `json:"processedEventIds,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// AppendTranscript adds one utterance.
func (r *CallRecord) AppendTranscript(role Role, text string) {
	r.Transcript = append(r.Transcript, TranscriptEntry{
		Role: role,
		Text: text,
		At:   time.Now(),
	})
}

// Mode reads the call mode from metadata, defaulting to conversation.
func (r *CallRecord) Mode() Mode {
	if m := Mode(cast.ToString(r.Metadata[metaMode])); m == ModeNotify {
		return ModeNotify
	}
	return ModeConversation
}

// TakeInitialMessage removes and returns the queued initial message. The
// delete happens before the caller can speak, so a duplicate answered event
// can never replay the greeting.
func (r *CallRecord) TakeInitialMessage() (string, bool) {
	raw, ok := r.Metadata[metaInitialMessage]
	if !ok {
		return "", false
	}
	delete(r.Metadata, metaInitialMessage)
	msg := cast.ToString(raw)
	if msg == "" {
		return "", false
	}
	return msg, true
}

// MarkEventProcessed records a provider event id, returning false when the
// id was already seen. The window is bounded; oldest ids fall off first.
func (r *CallRecord) MarkEventProcessed(eventID string) bool {
	if eventID == "" {
		return true
	}
	for _, id := range r.ProcessedEventIDs {
		if id == eventID {
			return false
		}
	}
	r.ProcessedEventIDs = append(r.ProcessedEventIDs, eventID)
	if len(r.ProcessedEventIDs) > maxProcessedEventIDs {
		r.ProcessedEventIDs = r.ProcessedEventIDs[len(r.ProcessedEventIDs)-maxProcessedEventIDs:]
	}
	return true
}

// Clone returns a deep copy safe to hand outside the manager's locks.
func (r *CallRecord) Clone() *CallRecord {
	cp := *r
	cp.Transcript = append([]TranscriptEntry(nil), r.Transcript...)
	cp.ProcessedEventIDs = append([]string(nil), r.ProcessedEventIDs...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// Store persists call records with overwrite-by-callId semantics. The last
// persisted state for a callId must be recoverable after a restart; format
// and engine are the implementation's concern.
type Store interface {
	Persist(rec *CallRecord) error
}

// NopStore discards records; used by tests that do not care about persistence.
type NopStore struct{}

func (NopStore) Persist(*CallRecord) error { return nil }
