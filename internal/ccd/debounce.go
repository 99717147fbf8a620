package ccd

import (
	"sync"
	"time"
)

// Debouncer schedules a trailing-edge callback, replacing any still-pending
// timer atomically on each call (§4.3.4 "control-change debounce", §9
// "Debounced/throttled scheduling is a cooperative timer: model as a
// scheduled task replaced atomically on rescheduling; the previous task is
// cancelled by a token flip, not deleted from the queue"). Used to drive
// the focused-sweep re-issue on rapid control switches.
type Debouncer struct {
	mu    sync.Mutex
	token uint64
	delay time.Duration
}

// NewDebouncer builds a Debouncer with the given trailing delay (spec
// default ~1000ms).
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Schedule replaces any previously scheduled fn with this one. The
// previous invocation is suppressed by a token flip rather than by
// cancelling a timer, so a timer that has already fired and is racing to
// acquire the mutex still loses cleanly.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	d.token++
	my := d.token
	d.mu.Unlock()

	time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := d.token == my
		d.mu.Unlock()
		if current {
			fn()
		}
	})
}
