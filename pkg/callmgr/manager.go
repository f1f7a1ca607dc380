// Package callmgr implements the outbound voice-call manager: a strict call
// state machine with per-call serialization, admission control, transcript
// waiters and max-duration timers, over an interchangeable telephony backend.
package callmgr

import (
	"context"
	"sync"
	"time"

	"github.com/code-100-precent/LingCall/pkg/events"
	"github.com/code-100-precent/LingCall/pkg/telephony"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// fromNumberFallback is the sentinel caller number used when no from number
// is configured; permitted for the mock backend only.
const fromNumberFallback = "+15550100000"

// notifyTimerSuffix keys the notify auto-hangup timer apart from the
// max-duration timer of the same call.
const notifyTimerSuffix = "/notify"

// Options configures a Manager.
type Options struct {
	Provider telephony.Provider
	Store    Store
	Bus      *events.Bus

	FromNumber         string
	WebhookURL         string
	MaxConcurrentCalls int

	DefaultMode           Mode
	NotifyHangupDelay     time.Duration
	MaxCallDuration       time.Duration
	TranscriptWaitTimeout time.Duration
}

// InitiateOptions are the per-call options of one Initiate.
type InitiateOptions struct {
	// Message is a one-shot greeting spoken when the callee answers.
	Message string
	// Mode overrides the configured default mode.
	Mode Mode
}

// callEntry pairs a record with its per-call lock. All record mutation
// happens with mu held so webhook events, agent commands and timer fires on
// the same call are serialized.
type callEntry struct {
	mu  sync.Mutex
	rec *CallRecord
}

// Manager owns the active-call registry and drives the call state machine.
type Manager struct {
	opts Options
	log  *logrus.Entry

	// mu guards the registry maps. Always acquired after a callEntry lock,
	// never before one.
	mu           sync.Mutex
	calls        map[string]*callEntry
	byProviderID map[string]string

	timers  *timerSet
	waiters *waiterSet

	// ended remembers recently ended call ids so EndCall stays idempotent
	// after the registry eviction.
	ended *gocache.Cache
}

func NewManager(opts Options) *Manager {
	if opts.Store == nil {
		opts.Store = NopStore{}
	}
	if opts.Bus == nil {
		opts.Bus = events.Default()
	}
	if opts.MaxConcurrentCalls <= 0 {
		opts.MaxConcurrentCalls = 1
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModeConversation
	}
	if opts.NotifyHangupDelay <= 0 {
		opts.NotifyHangupDelay = 3 * time.Second
	}
	if opts.MaxCallDuration <= 0 {
		opts.MaxCallDuration = 10 * time.Minute
	}
	if opts.TranscriptWaitTimeout <= 0 {
		opts.TranscriptWaitTimeout = 60 * time.Second
	}
	return &Manager{
		opts:         opts,
		log:          logrus.WithField("component", "callmgr"),
		calls:        make(map[string]*callEntry),
		byProviderID: make(map[string]string),
		timers:       newTimerSet(),
		waiters:      newWaiterSet(),
		ended:        gocache.New(time.Hour, 10*time.Minute),
	}
}

// ActiveCount returns the number of calls in the registry.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CallIDFor resolves a provider call id to the internal call id.
func (m *Manager) CallIDFor(providerCallID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byProviderID[providerCallID]
}

// Snapshot returns a copy of an active call's record.
func (m *Manager) Snapshot(callID string) (*CallRecord, bool) {
	entry := m.entry(callID)
	if entry == nil {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec.Clone(), true
}

func (m *Manager) entry(callID string) *callEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[callID]
}

// activeEntry distinguishes an unknown call from a recently ended one.
func (m *Manager) activeEntry(callID string) (*callEntry, error) {
	if entry := m.entry(callID); entry != nil {
		return entry, nil
	}
	if _, ended := m.ended.Get(callID); ended {
		return nil, ErrCallEnded
	}
	return nil, ErrCallNotFound
}

func (m *Manager) persist(rec *CallRecord) {
	if err := m.opts.Store.Persist(rec); err != nil {
		m.log.WithError(err).WithField("callId", rec.CallID).Error("persist call record failed")
	}
}

// Initiate places an outbound call. The record is persisted before the
// provider call so a provider call can never exist without a local record.
func (m *Manager) Initiate(ctx context.Context, to, sessionKey string, opts InitiateOptions) (string, error) {
	provider := m.opts.Provider
	if provider == nil {
		return "", ErrProviderNotInitialized
	}
	if m.opts.WebhookURL == "" {
		return "", ErrWebhookURLMissing
	}
	from := m.opts.FromNumber
	if from == "" {
		if provider.Kind() != telephony.KindMock {
			return "", ErrFromNumberMissing
		}
		from = fromNumberFallback
	}

	mode := opts.Mode
	if mode == "" {
		mode = m.opts.DefaultMode
	}

	callID := uuid.NewString()
	rec := &CallRecord{
		CallID:     callID,
		Provider:   string(provider.Kind()),
		Direction:  DirectionOutbound,
		State:      StateInitiated,
		From:       from,
		To:         to,
		SessionKey: sessionKey,
		StartedAt:  time.Now(),
		Metadata:   map[string]interface{}{metaMode: string(mode)},
	}
	if opts.Message != "" {
		rec.Metadata[metaInitialMessage] = opts.Message
	}

	entry := &callEntry{rec: rec}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Admission check and registration are atomic: the (N+1)th concurrent
	// initiate fails before any side effect.
	m.mu.Lock()
	if len(m.calls) >= m.opts.MaxConcurrentCalls {
		m.mu.Unlock()
		return "", ErrConcurrencyLimitExceeded
	}
	m.calls[callID] = entry
	m.mu.Unlock()

	if err := m.opts.Store.Persist(rec); err != nil {
		m.mu.Lock()
		delete(m.calls, callID)
		m.mu.Unlock()
		return "", err
	}

	// Published before the provider call so a failed initiate still pairs
	// its call.ended event with a call.initiated one.
	m.opts.Bus.Publish(events.Event{
		Type:     events.CallInitiated,
		CallID:   callID,
		Provider: rec.Provider,
	})

	initReq := telephony.InitiateRequest{
		CallID:     callID,
		From:       from,
		To:         to,
		WebhookURL: m.opts.WebhookURL,
	}
	if mode == ModeNotify && opts.Message != "" {
		// Inline markup lets the greeting play without waiting for the
		// answer webhook round trip.
		initReq.InlineMarkup = provider.AnswerMarkup(opts.Message)
	}

	providerCallID, err := provider.InitiateCall(ctx, initReq)
	if err != nil {
		m.log.WithError(err).WithField("callId", callID).Error("initiate call failed")
		m.finalizeLocked(entry, StateFailed, "provider error: "+err.Error())
		return "", providerErr("initiate call", err)
	}

	rec.ProviderCallID = providerCallID
	m.mu.Lock()
	m.byProviderID[providerCallID] = callID
	m.mu.Unlock()
	m.persist(rec)

	m.timers.Start(callID, m.opts.MaxCallDuration, func() {
		m.endByCallID(callID, StateTimeout, "max call duration exceeded")
	})

	m.log.WithFields(logrus.Fields{
		"callId":         callID,
		"providerCallId": providerCallID,
		"to":             to,
		"mode":           mode,
	}).Info("call initiated")
	return callID, nil
}

// Speak plays text into a connected, non-terminal call. The bot transcript
// entry is appended before the provider call so the record reflects intent
// even when the provider is slow.
func (m *Manager) Speak(ctx context.Context, callID, text string) error {
	entry, err := m.activeEntry(callID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	rec := entry.rec
	if rec.State.Terminal() {
		return ErrCallEnded
	}
	if rec.ProviderCallID == "" {
		return ErrCallNotConnected
	}

	rec.AppendTranscript(RoleBot, text)
	rec.State = StateSpeaking
	m.persist(rec)

	if err := m.opts.Provider.PlayTTS(ctx, callID, rec.ProviderCallID, text); err != nil {
		m.log.WithError(err).WithField("callId", callID).Error("play tts failed")
		m.finalizeLocked(entry, StateFailed, "provider error: "+err.Error())
		return providerErr("play tts", err)
	}
	return nil
}

// ContinueCall speaks the prompt, starts listening, and suspends until a
// final transcript arrives, the call ends, or the wait times out. The
// listener is stopped and the waiter cleared on every exit path.
func (m *Manager) ContinueCall(ctx context.Context, callID, prompt string) (string, error) {
	entry, err := m.activeEntry(callID)
	if err != nil {
		return "", err
	}

	entry.mu.Lock()
	rec := entry.rec
	if rec.State.Terminal() {
		entry.mu.Unlock()
		return "", ErrCallEnded
	}
	if rec.ProviderCallID == "" {
		entry.mu.Unlock()
		return "", ErrCallNotConnected
	}
	providerCallID := rec.ProviderCallID

	// Register the waiter before listening starts so a transcript that
	// arrives immediately cannot be lost.
	ch := m.waiters.Create(callID)
	defer m.waiters.Clear(callID, ch)

	rec.AppendTranscript(RoleBot, prompt)
	rec.State = StateSpeaking
	m.persist(rec)
	if err := m.opts.Provider.PlayTTS(ctx, callID, providerCallID, prompt); err != nil {
		m.finalizeLocked(entry, StateFailed, "provider error: "+err.Error())
		entry.mu.Unlock()
		return "", providerErr("play tts", err)
	}

	rec.State = StateListening
	m.persist(rec)
	if err := m.opts.Provider.StartListening(ctx, callID, providerCallID); err != nil {
		m.finalizeLocked(entry, StateFailed, "provider error: "+err.Error())
		entry.mu.Unlock()
		return "", providerErr("start listening", err)
	}
	entry.mu.Unlock()

	var res waitResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = waitResult{err: ctx.Err()}
	case <-time.After(m.opts.TranscriptWaitTimeout):
		res = waitResult{err: ErrTranscriptTimeout}
	}

	// Best effort: the call may already be terminal.
	if err := m.opts.Provider.StopListening(ctx, callID, providerCallID); err != nil {
		m.log.WithError(err).WithField("callId", callID).Debug("stop listening failed")
	}

	if res.err != nil {
		return "", res.err
	}
	return res.text, nil
}

// EndCall hangs up a call. Idempotent: ending an already ended call reports
// success without touching the provider.
func (m *Manager) EndCall(ctx context.Context, callID string) error {
	entry, err := m.activeEntry(callID)
	if err != nil {
		if err == ErrCallEnded {
			return nil
		}
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	rec := entry.rec
	if rec.State.Terminal() {
		return nil
	}

	if rec.ProviderCallID != "" {
		if err := m.opts.Provider.HangupCall(ctx, callID, rec.ProviderCallID, "bot"); err != nil {
			// The local record still transitions; a dangling provider leg is
			// reaped by the provider's own timeout.
			m.log.WithError(err).WithField("callId", callID).Warn("provider hangup failed")
		}
	}
	m.finalizeLocked(entry, StateHangupBot, "bot hangup")
	return nil
}

// SpeakInitialMessage speaks the queued one-shot greeting when the provider
// reports the call answered. Safe to call repeatedly: the message is deleted
// from metadata before it is spoken, so a duplicate answered event or a
// provider reconnect cannot replay it.
func (m *Manager) SpeakInitialMessage(ctx context.Context, providerCallID string) error {
	callID := m.CallIDFor(providerCallID)
	if callID == "" {
		return nil
	}
	entry := m.entry(callID)
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	rec := entry.rec
	if rec.State.Terminal() {
		return nil
	}

	msg, ok := rec.TakeInitialMessage()
	if !ok {
		return nil
	}
	mode := rec.Mode()

	rec.AppendTranscript(RoleBot, msg)
	rec.State = StateSpeaking
	m.persist(rec)

	m.opts.Bus.Publish(events.Event{
		Type:     events.CallAnswered,
		CallID:   callID,
		Provider: rec.Provider,
	})

	if err := m.opts.Provider.PlayTTS(ctx, callID, rec.ProviderCallID, msg); err != nil {
		m.log.WithError(err).WithField("callId", callID).Error("initial message tts failed")
		m.finalizeLocked(entry, StateFailed, "provider error: "+err.Error())
		return providerErr("play tts", err)
	}

	if mode == ModeNotify {
		m.timers.Start(callID+notifyTimerSuffix, m.opts.NotifyHangupDelay, func() {
			m.hangupAfterNotify(callID)
		})
	}
	return nil
}

// hangupAfterNotify ends a notify-mode call once its message has played,
// re-checking the call is still live before acting.
func (m *Manager) hangupAfterNotify(callID string) {
	entry := m.entry(callID)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	rec := entry.rec
	if rec.State.Terminal() {
		return
	}
	if rec.ProviderCallID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.opts.Provider.HangupCall(ctx, callID, rec.ProviderCallID, "notify complete"); err != nil {
			m.log.WithError(err).WithField("callId", callID).Warn("notify hangup failed")
		}
	}
	m.finalizeLocked(entry, StateHangupBot, "notify complete")
}

// RemapProviderCall rebinds a call tracked under a provisional provider id
// to the definitive one. Plivo acknowledges an initiate with a request uuid
// but addresses every later webhook and REST operation by call uuid; the
// first webhook carrying both rebinds the call.
func (m *Manager) RemapProviderCall(oldProviderCallID, newProviderCallID string) {
	if oldProviderCallID == "" || newProviderCallID == "" || oldProviderCallID == newProviderCallID {
		return
	}
	callID := m.CallIDFor(oldProviderCallID)
	if callID == "" {
		return
	}
	entry := m.entry(callID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	rec := entry.rec
	if rec.State.Terminal() || rec.ProviderCallID != oldProviderCallID {
		return
	}

	m.mu.Lock()
	delete(m.byProviderID, oldProviderCallID)
	m.byProviderID[newProviderCallID] = callID
	m.mu.Unlock()

	rec.ProviderCallID = newProviderCallID
	m.persist(rec)
	m.log.WithFields(logrus.Fields{
		"callId":         callID,
		"providerCallId": newProviderCallID,
	}).Debug("provider call id remapped")
}

// HandleTranscriptFinal routes an inbound final-transcript event to the call
// and resolves its pending waiter.
func (m *Manager) HandleTranscriptFinal(providerCallID, text string) {
	callID := m.CallIDFor(providerCallID)
	if callID == "" {
		return
	}
	entry := m.entry(callID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	rec := entry.rec
	if rec.State.Terminal() {
		entry.mu.Unlock()
		return
	}
	rec.AppendTranscript(RoleUser, text)
	m.persist(rec)
	entry.mu.Unlock()

	m.waiters.Resolve(callID, text)
}

// HandleCallEnded records a remote hangup reported by the provider.
func (m *Manager) HandleCallEnded(providerCallID, reason string) {
	m.endByProvider(providerCallID, StateHangupRemote, reason)
}

// HandleCallFailed records a provider-side failure (busy, no answer, error).
func (m *Manager) HandleCallFailed(providerCallID, reason string) {
	m.endByProvider(providerCallID, StateFailed, reason)
}

// DedupEvent marks a provider event id processed for the call, returning
// false when the id was already seen (the event must be dropped). Unknown
// calls pass through; the caller's lookup will no-op on them anyway.
func (m *Manager) DedupEvent(providerCallID, eventID string) bool {
	callID := m.CallIDFor(providerCallID)
	if callID == "" {
		return true
	}
	entry := m.entry(callID)
	if entry == nil {
		return true
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	fresh := entry.rec.MarkEventProcessed(eventID)
	if fresh {
		m.persist(entry.rec)
	}
	return fresh
}

func (m *Manager) endByProvider(providerCallID string, state State, reason string) {
	callID := m.CallIDFor(providerCallID)
	if callID == "" {
		return
	}
	m.endByCallID(callID, state, reason)
}

func (m *Manager) endByCallID(callID string, state State, reason string) {
	entry := m.entry(callID)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.rec.State.Terminal() {
		return
	}
	if state == StateTimeout && entry.rec.ProviderCallID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.opts.Provider.HangupCall(ctx, callID, entry.rec.ProviderCallID, "timeout"); err != nil {
			m.log.WithError(err).WithField("callId", callID).Warn("timeout hangup failed")
		}
	}
	m.finalizeLocked(entry, state, reason)
}

// finalizeLocked moves a call to a terminal state and releases everything
// attached to it: both timers, the transcript waiter, the registry entries.
// Requires the entry lock held and the record non-terminal. Runs exactly
// once per call.
func (m *Manager) finalizeLocked(entry *callEntry, state State, reason string) {
	rec := entry.rec
	now := time.Now()
	rec.State = state
	rec.EndReason = reason
	rec.EndedAt = &now
	m.persist(rec)

	m.timers.Stop(rec.CallID)
	m.timers.Stop(rec.CallID + notifyTimerSuffix)
	m.waiters.Reject(rec.CallID, ErrCallEnded)

	m.mu.Lock()
	delete(m.calls, rec.CallID)
	if rec.ProviderCallID != "" {
		delete(m.byProviderID, rec.ProviderCallID)
	}
	m.mu.Unlock()

	m.ended.SetDefault(rec.CallID, string(state))

	m.opts.Bus.Publish(events.Event{
		Type:        events.CallEnded,
		CallID:      rec.CallID,
		Provider:    rec.Provider,
		State:       string(state),
		Reason:      reason,
		DurationSec: now.Sub(rec.StartedAt).Seconds(),
	})
	m.log.WithFields(logrus.Fields{
		"callId": rec.CallID,
		"state":  state,
		"reason": reason,
	}).Info("call ended")
}

// Shutdown cancels all timers and rejects all waiters. Active provider legs
// are left to the provider's own limits.
func (m *Manager) Shutdown() {
	m.timers.StopAll()
	m.mu.Lock()
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.waiters.Reject(id, ErrCallEnded)
	}
}
