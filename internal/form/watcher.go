package form

import (
	"sync"
	"time"
)

// DefaultRecomputeDebounce batches progress recomputation while large
// form sections change at once.
const DefaultRecomputeDebounce = 100 * time.Millisecond

// Watcher debounces progress recomputation. Bulk mutation (a section
// being rendered, a reconciliation pass) calls Notify repeatedly; the
// callback fires once, with a fresh whole-form snapshot, after the burst
// settles.
type Watcher struct {
	model    *Model
	interval time.Duration
	fn       func(Snapshot)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher invoking fn with a recomputed snapshot
// after each debounced burst of Notify calls. A zero interval uses
// DefaultRecomputeDebounce.
func NewWatcher(model *Model, interval time.Duration, fn func(Snapshot)) *Watcher {
	if interval <= 0 {
		interval = DefaultRecomputeDebounce
	}
	return &Watcher{
		model:    model,
		interval: interval,
		fn:       fn,
	}
}

// Notify schedules a debounced recompute. Calls during the debounce
// window collapse into one.
func (w *Watcher) Notify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Reset(w.interval)
		return
	}
	w.timer = time.AfterFunc(w.interval, w.fire)
}

// Flush recomputes and delivers immediately, cancelling any pending
// debounce. Used after a successful sync, where the new save state must
// show without waiting out a debounce window.
func (w *Watcher) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.fn(w.model.Progress())
}

// Stop cancels any pending recompute.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.timer = nil
	w.mu.Unlock()

	w.fn(w.model.Progress())
}
