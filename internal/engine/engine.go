// Package engine provides the sync engine that orchestrates answer
// persistence across the form model, the local answer store, and the
// remote answer gateway.
//
// The engine:
//  1. Debounces per-field edits and pushes them to the gateway
//  2. Degrades failed writes to durable local storage and retries them
//     with exponential backoff
//  3. Runs the one-time database-first reconciliation pass on form load
//  4. Periodically snapshots all unconfirmed values as a crash safety net
//
// Remote failures are never fatal to the user: every failure path ends
// in a retry schedule or an event, never an interruption.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/surveykit/fieldsync/internal/answer"
	"github.com/surveykit/fieldsync/internal/form"
	"github.com/surveykit/fieldsync/internal/gateway"
	"github.com/surveykit/fieldsync/internal/store"
	"github.com/surveykit/fieldsync/internal/tracker"
)

// Config holds the engine's timing and identity parameters.
type Config struct {
	// Debounce is the quiet period after an edit before the remote
	// write is attempted.
	Debounce time.Duration

	// FeedbackDelay is the short delay before the renderer gets a
	// "pending" event for an edited field.
	FeedbackDelay time.Duration

	// RetryInterval is how often pending local fields are flushed and
	// connectivity is probed.
	RetryInterval time.Duration

	// SnapshotInterval is how often all unconfirmed values are
	// serialized to the local store regardless of debounce state.
	SnapshotInterval time.Duration

	// BackoffBase is the first retry delay after a flush failure. It
	// doubles per consecutive failure.
	BackoffBase time.Duration

	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration

	// UserID identifies the session's user on the gateway.
	UserID string

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:         3 * time.Second,
		FeedbackDelay:    300 * time.Millisecond,
		RetryInterval:    30 * time.Second,
		SnapshotInterval: 30 * time.Second,
		BackoffBase:      30 * time.Second,
		BackoffCap:       5 * time.Minute,
		Logger:           log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine coordinates edits, local persistence, and remote sync for one
// form session. All components are injected; the engine is the only
// writer of save-state transitions.
type Engine struct {
	store   *store.Store
	tracker *tracker.Tracker
	model   *form.Model
	gw      gateway.Gateway
	cfg     *Config
	logger  *log.Logger

	notifier Notifier
	progress *form.Watcher
	metrics  *Metrics

	mu       sync.Mutex
	debounce map[string]*time.Timer
	feedback map[string]*time.Timer
	failures map[string]int
	nextTry  map[string]time.Time
	deletes  map[string]bool
	online   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates a sync engine over the given components.
//
// If cfg is nil, DefaultConfig is used. If cfg.Logger is nil, a default
// logger writing to stderr is used.
func New(st *store.Store, tr *tracker.Tracker, model *form.Model, gw gateway.Gateway, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:    st,
		tracker:  tr,
		model:    model,
		gw:       gw,
		cfg:      cfg,
		logger:   cfg.Logger,
		notifier: nopNotifier{},
		debounce: make(map[string]*time.Timer),
		feedback: make(map[string]*time.Timer),
		failures: make(map[string]int),
		nextTry:  make(map[string]time.Time),
		deletes:  make(map[string]bool),
		online:   true,
		now:      time.Now,
	}
}

// SetNotifier attaches an event sink. Must be called before Start.
func (e *Engine) SetNotifier(n Notifier) {
	if n != nil {
		e.notifier = n
	}
}

// SetProgressWatcher attaches a debounced progress recompute target.
// Must be called before Start.
func (e *Engine) SetProgressWatcher(w *form.Watcher) {
	e.progress = w
}

// SetMetrics attaches sync counters. Must be called before Start.
func (e *Engine) SetMetrics(m *Metrics) {
	e.metrics = m
}

// Start launches the retry and snapshot loops. It does not block; use
// Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go e.retryLoop()
	go e.snapshotLoop()
}

// Stop cancels all timers and waits for background loops to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}

	e.mu.Lock()
	for id, t := range e.debounce {
		t.Stop()
		delete(e.debounce, id)
	}
	for id, t := range e.feedback {
		t.Stop()
		delete(e.feedback, id)
	}
	e.mu.Unlock()

	e.wg.Wait()

	if e.progress != nil {
		e.progress.Stop()
	}
}

// Online reports the last known gateway reachability.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline overrides the connectivity flag. The retry loop maintains it
// from health probes; this exists for hosts with their own connectivity
// signal.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
}

// FieldEdited records a new value for fieldID and (re)arms its debounce
// timer. Nothing is persisted yet: if the user keeps typing, earlier
// values are superseded and only the latest is ever sent.
func (e *Engine) FieldEdited(fieldID, rawValue string) {
	v := answer.Normalize(rawValue)
	e.model.SetValue(fieldID, v)

	if v == "" {
		// Clearing overrides writing: the cached record and indicator go
		// now, and the deletion still propagates on the debounce.
		if err := e.store.Delete(fieldID); err != nil {
			e.logger.Printf("Warning: failed to drop cached answer %s: %v", fieldID, err)
		}
		e.tracker.SetState(fieldID, answer.StateNone)
		e.emit(Event{Type: EventFieldCleared, FieldID: fieldID, State: answer.StateNone})
	} else {
		e.tracker.SetState(fieldID, answer.StateUnsaved)
		e.armFeedback(fieldID)
	}

	e.armDebounce(fieldID)
	e.notifyProgress()
	e.updatePendingGauge()
}

// armDebounce (re)starts the remote-write timer for fieldID. A later
// edit invalidates any timer already in flight, preserving
// last-write-wins.
func (e *Engine) armDebounce(fieldID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.debounce[fieldID]; ok {
		t.Reset(e.cfg.Debounce)
		return
	}
	e.debounce[fieldID] = time.AfterFunc(e.cfg.Debounce, func() {
		e.mu.Lock()
		delete(e.debounce, fieldID)
		e.mu.Unlock()

		e.flushField(e.background(), fieldID)
	})
}

// armFeedback schedules the short "looks busy" pending event.
func (e *Engine) armFeedback(fieldID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.feedback[fieldID]; ok {
		t.Reset(e.cfg.FeedbackDelay)
		return
	}
	e.feedback[fieldID] = time.AfterFunc(e.cfg.FeedbackDelay, func() {
		e.mu.Lock()
		delete(e.feedback, fieldID)
		e.mu.Unlock()

		e.emit(Event{Type: EventFieldPending, FieldID: fieldID, State: answer.StateUnsaved})
	})
}

// flushField attempts one remote write carrying fieldID's current value.
// Returns true if the field needs no further attempts.
func (e *Engine) flushField(ctx context.Context, fieldID string) bool {
	value := e.model.Value(fieldID)

	sub := gateway.Submission{
		QuestionID: fieldID,
		Answer:     value,
		UserID:     e.cfg.UserID,
	}
	if parent, ok := e.model.Definition().ParentOf(fieldID); ok {
		sub.QuestionID = parent
		sub.SubQuestionID = fieldID
	}

	err := e.gw.SubmitAnswer(ctx, sub)
	e.cancelFeedback(fieldID)

	switch {
	case err == nil:
		e.confirmField(fieldID, value)
		return true

	case errors.Is(err, gateway.ErrUnknownField):
		e.purgeField(fieldID)
		return true

	default:
		e.degradeField(fieldID, value, err)
		return false
	}
}

// confirmField applies the success path: the store record is deleted,
// the state becomes database (or none for a propagated clear), progress
// is recomputed, and confirmed leftovers are swept.
func (e *Engine) confirmField(fieldID, value string) {
	e.SetOnline(true)
	e.countSubmission()

	if err := e.store.Delete(fieldID); err != nil {
		e.logger.Printf("Warning: failed to drop confirmed answer %s: %v", fieldID, err)
	}

	e.mu.Lock()
	delete(e.failures, fieldID)
	delete(e.nextTry, fieldID)
	delete(e.deletes, fieldID)
	e.mu.Unlock()

	if value == "" {
		e.tracker.SetState(fieldID, answer.StateNone)
	} else {
		e.tracker.SetState(fieldID, answer.StateDatabase)
		e.emit(Event{Type: EventFieldSaved, FieldID: fieldID, State: answer.StateDatabase})
	}

	e.sweepConfirmed()
	e.flushProgress()
	e.updatePendingGauge()
}

// purgeField drops a dead identifier everywhere so it cannot loop in
// retry forever.
func (e *Engine) purgeField(fieldID string) {
	e.logger.Printf("Gateway no longer knows field %s; purging cached answer", fieldID)

	if err := e.store.Delete(fieldID); err != nil {
		e.logger.Printf("Warning: failed to purge cached answer %s: %v", fieldID, err)
	}

	e.mu.Lock()
	delete(e.failures, fieldID)
	delete(e.nextTry, fieldID)
	delete(e.deletes, fieldID)
	e.mu.Unlock()

	e.tracker.Forget(fieldID)
	e.emit(Event{Type: EventFieldPurged, FieldID: fieldID, State: answer.StateNone})
	e.updatePendingGauge()
}

// degradeField applies the failure path: the value falls back to the
// local store, the UI value stays intact, and a retry is scheduled with
// backoff.
func (e *Engine) degradeField(fieldID, value string, cause error) {
	e.SetOnline(false)
	e.countFailure()
	e.logger.Printf("Remote write for %s failed (%v); keeping local copy", fieldID, cause)

	if value == "" {
		// A cleared field has nothing to store; remember the deletion so
		// it propagates when connectivity returns.
		e.mu.Lock()
		e.deletes[fieldID] = true
		e.mu.Unlock()
	} else {
		if err := e.store.Put(fieldID, value, answer.StateLocal); err != nil {
			e.reportStorageError(fieldID, err)
		}
		e.tracker.SetState(fieldID, answer.StateLocal)
		e.emit(Event{Type: EventFieldLocal, FieldID: fieldID, State: answer.StateLocal})
	}

	e.bumpBackoff(fieldID)
	e.updatePendingGauge()
}

// FlushPending attempts a remote write for every field with unsynced
// local changes, one at a time. When force is true the per-field backoff
// gates are ignored — used on reconnect and for explicit user-triggered
// syncs. Returns how many fields were confirmed and how many failed.
func (e *Engine) FlushPending(ctx context.Context, force bool) (flushed, failed int) {
	start := e.now()

	ids := e.tracker.Pending()
	e.mu.Lock()
	for id := range e.deletes {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if !force && !e.due(id) {
			continue
		}
		e.countRetry()
		if e.flushField(ctx, id) {
			flushed++
		} else {
			failed++
		}
	}

	if flushed+failed > 0 {
		e.emit(Event{
			Type:    EventSyncComplete,
			Flushed: flushed,
			Failed:  failed,
		})
		e.logger.Printf("Flush pass complete: flushed=%d failed=%d in %v",
			flushed, failed, time.Since(start).Round(time.Millisecond))
	}

	return flushed, failed
}

// due reports whether fieldID's backoff window has elapsed.
func (e *Engine) due(fieldID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, ok := e.nextTry[fieldID]
	return !ok || !e.now().Before(next)
}

// bumpBackoff increments the consecutive-failure count and schedules the
// next attempt: base delay doubling per failure, capped.
func (e *Engine) bumpBackoff(fieldID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures[fieldID]++
	e.nextTry[fieldID] = e.now().Add(e.backoffDelay(e.failures[fieldID]))
}

// backoffDelay returns the retry delay after n consecutive failures.
// Non-decreasing in n and capped at BackoffCap.
func (e *Engine) backoffDelay(n int) time.Duration {
	if n <= 0 {
		return 0
	}

	d := e.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	return d
}

// sweepConfirmed removes store records whose tracked state is already
// database. A successful write confirms only the field that carried it;
// sweeping the confirmed subset still cleans up stale offline markers
// without discarding unrelated edits that never got their attempt.
func (e *Engine) sweepConfirmed() {
	cached, err := e.store.GetAll()
	if err != nil {
		e.logger.Printf("Warning: confirmed-record sweep failed: %v", err)
		return
	}

	for id := range cached {
		if e.tracker.GetState(id) != answer.StateDatabase {
			continue
		}
		if err := e.store.Delete(id); err != nil {
			e.logger.Printf("Warning: failed to sweep confirmed answer %s: %v", id, err)
		}
	}
}

// Reconcile runs the one-time database-first pass: server-confirmed
// values win, their local copies are evicted, and only fields the server
// doesn't have (or left empty) are restored from the local cache. Must
// run before any UI restoration read. Safe to run again — a second pass
// with no intervening edits is a no-op.
func (e *Engine) Reconcile(ctx context.Context) error {
	answers, err := e.gw.SavedAnswers(ctx)
	if err != nil {
		// Offline load: restore purely from the local cache below.
		e.SetOnline(false)
		e.logger.Printf("Saved-answers fetch failed (%v); restoring from local cache only", err)
		answers = nil
	} else {
		e.SetOnline(true)
	}

	def := e.model.Definition()
	for fieldID, ans := range answers {
		if def.HasSubFields(fieldID) {
			subs := answer.DecodeComposite(ans.Value)
			if len(subs) == 0 && strings.TrimSpace(ans.Value) != "" {
				e.logger.Printf("Warning: composite answer for %s is malformed (%q); skipping", fieldID, ans.Value)
			}
			for _, sub := range subs {
				// An empty decomposed value is an explicit clear.
				e.applyRemote(sub.SubID, sub.Value)
			}
			continue
		}

		if strings.TrimSpace(ans.Value) == "" {
			// Top-level empty means "no information", not a clear.
			continue
		}
		e.applyRemote(fieldID, ans.Value)
	}

	cached, err := e.store.GetAllContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read local cache during reconciliation: %w", err)
	}

	for id, rec := range cached {
		if e.model.Value(id) != "" {
			continue
		}
		e.model.SetValue(id, rec.Value)

		state := rec.SaveState
		if !state.Persistable() {
			state = answer.StateLocal
		}
		e.tracker.SetState(id, state)
	}

	e.flushProgress()
	e.updatePendingGauge()
	return nil
}

// applyRemote installs one server-confirmed value: the model takes it,
// the tracker marks it database, and any stale local copy is evicted. An
// empty value clears the field entirely.
func (e *Engine) applyRemote(fieldID, value string) {
	if err := e.store.Delete(fieldID); err != nil {
		e.logger.Printf("Warning: failed to evict cached answer %s: %v", fieldID, err)
	}

	if value == "" {
		e.model.ClearValue(fieldID)
		e.tracker.SetState(fieldID, answer.StateNone)
		return
	}

	e.model.SetValue(fieldID, value)
	e.tracker.SetState(fieldID, answer.StateDatabase)
}

// ClearLocal wipes every cached record and all unsynced state. Only for
// an explicit, user-confirmed reset.
func (e *Engine) ClearLocal(ctx context.Context) error {
	if err := e.store.ClearContext(ctx); err != nil {
		return fmt.Errorf("failed to clear local answers: %w", err)
	}

	for id, state := range e.tracker.States() {
		if state.Persistable() {
			e.tracker.Forget(id)
		}
	}

	e.mu.Lock()
	e.failures = make(map[string]int)
	e.nextTry = make(map[string]time.Time)
	e.deletes = make(map[string]bool)
	e.mu.Unlock()

	e.logger.Printf("Local answer cache cleared")
	e.updatePendingGauge()
	return nil
}

// retryLoop periodically probes connectivity and flushes pending fields.
// An offline-to-online transition flushes immediately, ignoring backoff
// gates.
func (e *Engine) retryLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return

		case <-ticker.C:
			wasOnline := e.Online()
			healthy := e.gw.Healthy(e.ctx)

			switch {
			case healthy && !wasOnline:
				e.SetOnline(true)
				e.logger.Printf("Connectivity restored; flushing pending answers")
				e.FlushPending(e.ctx, true)

			case healthy:
				e.FlushPending(e.ctx, false)

			default:
				e.SetOnline(false)
			}
		}
	}
}

// snapshotLoop is the coarse safety net: on every tick, every filled,
// not-yet-confirmed field is serialized to the store regardless of
// debounce state, so a crash between debounce windows cannot lose a
// value already visible on screen.
func (e *Engine) snapshotLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return

		case <-ticker.C:
			e.SnapshotUnconfirmed(e.ctx)
		}
	}
}

// SnapshotUnconfirmed writes every filled field whose value the gateway
// has not confirmed into the local store.
func (e *Engine) SnapshotUnconfirmed(ctx context.Context) {
	for id, value := range e.model.Values() {
		state := e.tracker.GetState(id)
		if state == answer.StateDatabase {
			continue
		}
		if !state.Persistable() {
			state = answer.StateLocal
		}
		if err := e.store.PutContext(ctx, id, value, state); err != nil {
			e.reportStorageError(id, err)
			return
		}
	}
}

// reportStorageError surfaces a local persistence failure without
// interrupting the session; in-memory state remains authoritative.
func (e *Engine) reportStorageError(fieldID string, err error) {
	if errors.Is(err, store.ErrStorageFull) {
		e.logger.Printf("Local storage exhausted; continuing with in-memory state only")
	} else {
		e.logger.Printf("Warning: failed to cache answer %s: %v", fieldID, err)
	}
	e.emit(Event{Type: EventStorageError, FieldID: fieldID, Err: err})
}

func (e *Engine) cancelFeedback(fieldID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.feedback[fieldID]; ok {
		t.Stop()
		delete(e.feedback, fieldID)
	}
}

func (e *Engine) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	e.notifier.Notify(ev)
}

func (e *Engine) notifyProgress() {
	if e.progress != nil {
		e.progress.Notify()
	}
}

func (e *Engine) flushProgress() {
	if e.progress != nil {
		e.progress.Flush()
	}
}

// background returns the engine's lifecycle context, or a fresh one when
// the engine was never started (one-shot CLI use).
func (e *Engine) background() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

func (e *Engine) countSubmission() {
	if e.metrics != nil {
		e.metrics.Submissions.Inc()
	}
}

func (e *Engine) countFailure() {
	if e.metrics != nil {
		e.metrics.Failures.Inc()
	}
}

func (e *Engine) countRetry() {
	if e.metrics != nil {
		e.metrics.Retries.Inc()
	}
}

func (e *Engine) updatePendingGauge() {
	if e.metrics != nil {
		e.metrics.Pending.Set(float64(len(e.tracker.Pending())))
	}
}
