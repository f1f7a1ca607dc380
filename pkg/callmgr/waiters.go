package callmgr

import (
	"sync"
)

// waitResult is what a transcript waiter eventually receives.
type waitResult struct {
	text string
	err  error
}

// waiterSet holds at most one cancellable transcript future per call id.
// Creating a new waiter implicitly rejects any prior one for the same call.
type waiterSet struct {
	mu      sync.Mutex
	waiters map[string]chan waitResult
}

func newWaiterSet() *waiterSet {
	return &waiterSet{waiters: make(map[string]chan waitResult)}
}

// Create registers a fresh waiter for the call, rejecting any existing one.
func (w *waiterSet) Create(callID string) <-chan waitResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.waiters[callID]; ok {
		deliver(old, waitResult{err: ErrWaitSuperseded})
	}
	ch := make(chan waitResult, 1)
	w.waiters[callID] = ch
	return ch
}

// Resolve completes the call's waiter with a final transcript. Returns false
// when no waiter is pending.
func (w *waiterSet) Resolve(callID, text string) bool {
	return w.complete(callID, waitResult{text: text})
}

// Reject completes the call's waiter with an error. Returns false when no
// waiter is pending.
func (w *waiterSet) Reject(callID string, err error) bool {
	return w.complete(callID, waitResult{err: err})
}

func (w *waiterSet) complete(callID string, res waitResult) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.waiters[callID]
	if !ok {
		return false
	}
	delete(w.waiters, callID)
	deliver(ch, res)
	return true
}

// Clear drops the call's waiter if it is still the given channel; used by
// the waiting side to clean up after a timeout without clobbering a
// successor waiter.
func (w *waiterSet) Clear(callID string, ch <-chan waitResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.waiters[callID]; ok && cur == ch {
		delete(w.waiters, callID)
	}
}

// deliver writes without blocking; the buffer of one guarantees the first
// completion always lands.
func deliver(ch chan waitResult, res waitResult) {
	select {
	case ch <- res:
	default:
	}
}
