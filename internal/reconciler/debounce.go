package reconciler

import (
	"sync"
	"time"
)

// Debouncer runs at most one delayed task per key. Scheduling a key that is
// already pending replaces the task and restarts the delay; the replaced
// task never runs.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*debounceEntry
	nextGen uint64
	stopped bool
}

type debounceEntry struct {
	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates a Debouncer with the given delay.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*debounceEntry),
	}
}

// Schedule runs fn after the delay unless key is scheduled again or
// cancelled first. fn runs on its own goroutine.
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
	}

	d.nextGen++
	gen := d.nextGen
	entry := &debounceEntry{gen: gen}
	entry.timer = time.AfterFunc(d.delay, func() {
		if d.claim(key, gen) {
			fn()
		}
	})
	d.pending[key] = entry
}

// claim removes key if its pending entry is still generation gen. A timer
// whose entry was replaced loses the race here even if Stop came too late.
func (d *Debouncer) claim(key string, gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.pending[key]
	if !ok || entry.gen != gen || d.stopped {
		return false
	}
	delete(d.pending, key)
	return true
}

// Cancel drops the pending task for key. It reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.pending[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending returns the number of tasks waiting to run.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending task. Later calls to Schedule are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}
