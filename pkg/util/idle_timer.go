package util

import (
	"sync"
	"time"
)

// IdleTimer runs a callback once no activity has been signalled for the
// configured duration. It starts disarmed; Touch arms or re-arms it.
type IdleTimer struct {
	mu       sync.Mutex
	duration time.Duration
	onIdle   func()
	timer    *time.Timer
	gen      uint64
	stopped  bool
}

// NewIdleTimer creates a disarmed idle timer. A non-positive duration disables it.
func NewIdleTimer(duration time.Duration, onIdle func()) *IdleTimer {
	return &IdleTimer{duration: duration, onIdle: onIdle}
}

// Touch signals activity, (re)starting the countdown.
func (t *IdleTimer) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.duration <= 0 {
		return
	}

	if t.timer != nil {
		t.timer.Stop()
	}

	// A callback already queued by an older timer sees a stale generation and returns.
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.duration, func() { t.fire(gen) })
}

// Armed reports whether a countdown is pending.
func (t *IdleTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.timer != nil && !t.stopped
}

// Stop cancels the countdown permanently.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *IdleTimer) fire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()

		return
	}
	t.stopped = true
	t.timer = nil
	t.mu.Unlock()

	t.onIdle()
}
