package callmgr

import (
	"sync"
	"time"
)

// timerSet tracks cancellable timers keyed by call id. Starting a timer for
// a key that already has one replaces it.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

// Start schedules fn after d, replacing any pending timer for the key. fn
// runs on the timer goroutine; it must not assume the timer is still
// registered.
func (t *timerSet) Start(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	t.timers[key] = time.AfterFunc(d, func() {
		t.remove(key)
		fn()
	})
}

// Stop cancels the pending timer for the key, if any.
func (t *timerSet) Stop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
}

func (t *timerSet) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.timers, key)
}

// StopAll cancels every pending timer.
func (t *timerSet) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
