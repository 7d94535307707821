// Package util holds small concurrency helpers shared across the service.
package util

import (
	"sync"
	"time"
)

// Debouncer is a resettable timer read from a select loop. Each Reset pushes
// the deadline out by the full duration; Stop disarms it for good.
//
// A nil *Debouncer is valid and never fires, which lets callers keep an
// optional timeout in the same select statement:
//
//	var gap *util.Debouncer
//	if silence > 0 {
//	    gap = util.NewDebouncer(silence)
//	    defer gap.Stop()
//	}
//	for {
//	    select {
//	    case f := <-frames:
//	        handle(f)
//	        gap.Reset()
//	    case <-gap.C():
//	        return // no frame for `silence`
//	    }
//	}
type Debouncer struct {
	duration time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	stopped  bool
	last     time.Time
}

// NewDebouncer creates an armed debouncer that fires after duration.
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{
		duration: duration,
		timer:    time.NewTimer(duration),
		last:     time.Now(),
	}
}

// Reset re-arms the timer for a full duration from now.
// It is a no-op after Stop and on a nil receiver.
func (d *Debouncer) Reset() {
	if d == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if !d.timer.Stop() {
		select {
		case <-d.timer.C:
		default:
		}
	}
	d.timer.Reset(d.duration)
	d.last = time.Now()
}

// C returns the channel the expiry is delivered on; nil for a nil receiver.
func (d *Debouncer) C() <-chan time.Time {
	if d == nil {
		return nil
	}

	return d.timer.C
}

// Since returns how long ago the debouncer was last armed.
func (d *Debouncer) Since() time.Duration {
	if d == nil {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return time.Since(d.last)
}

// Stop disarms the debouncer. It's safe to call Stop multiple times.
func (d *Debouncer) Stop() {
	if d == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.stopped {
		d.timer.Stop()
		d.stopped = true
	}
}
