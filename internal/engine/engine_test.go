package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/surveykit/fieldsync/internal/answer"
	"github.com/surveykit/fieldsync/internal/form"
	"github.com/surveykit/fieldsync/internal/gateway"
	"github.com/surveykit/fieldsync/internal/store"
	"github.com/surveykit/fieldsync/internal/tracker"
)

// fakeGateway is an in-memory Gateway with scriptable failures.
type fakeGateway struct {
	mu        sync.Mutex
	answers   map[string]gateway.Answer
	submitted []gateway.Submission
	fetchErr  error
	submitErr error
	unknown   map[string]bool
	healthy   bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		answers: make(map[string]gateway.Answer),
		unknown: make(map[string]bool),
		healthy: true,
	}
}

func (f *fakeGateway) SavedAnswers(context.Context) (map[string]gateway.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make(map[string]gateway.Answer, len(f.answers))
	for k, v := range f.answers {
		out[k] = v
	}
	return out, nil
}

func (f *fakeGateway) SubmitAnswer(_ context.Context, sub gateway.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknown[sub.QuestionID] {
		return gateway.ErrUnknownField
	}
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, sub)
	return nil
}

func (f *fakeGateway) UpdateProfile(context.Context, gateway.Profile) error { return nil }

func (f *fakeGateway) Healthy(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeGateway) setSubmitErr(err error) {
	f.mu.Lock()
	f.submitErr = err
	f.healthy = err == nil
	f.mu.Unlock()
}

func (f *fakeGateway) submissions() []gateway.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Submission(nil), f.submitted...)
}

// recordingNotifier captures engine events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testDefinition() *form.Definition {
	return &form.Definition{
		Title: "Facility Survey",
		Categories: []form.Category{
			{
				ID: "facilities",
				Topics: []form.Topic{
					{
						ID: "classrooms",
						Fields: []form.Field{
							{ID: "q1", Kind: form.KindNumber},
							{ID: "q2", Kind: form.KindText, SubFields: []form.SubField{
								{ID: "10"}, {ID: "11"},
							}},
							{ID: "q3", Kind: form.KindText},
						},
					},
				},
			},
		},
	}
}

// setupTestEngine wires an engine over a temp store and a fake gateway.
// The debounce is set far out so tests drive flushes explicitly.
func setupTestEngine(t *testing.T, gw gateway.Gateway) (*Engine, *store.Store, *tracker.Tracker, *form.Model) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "answers.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tr := tracker.New()
	model := form.NewModel(testDefinition())

	cfg := DefaultConfig()
	cfg.Debounce = time.Hour
	cfg.FeedbackDelay = time.Hour
	cfg.UserID = "u1"
	cfg.Logger = log.New(os.Stderr, "[engine-test] ", log.LstdFlags)

	e := New(st, tr, model, gw, cfg)
	t.Cleanup(e.Stop)
	return e, st, tr, model
}

func TestFieldEditedMarksUnsaved(t *testing.T) {
	gw := newFakeGateway()
	e, _, tr, model := setupTestEngine(t, gw)

	e.FieldEdited("q1", "  42 ")

	if got := model.Value("q1"); got != "42" {
		t.Errorf("expected normalized value 42, got %q", got)
	}
	if got := tr.GetState("q1"); got != answer.StateUnsaved {
		t.Errorf("expected unsaved before flush, got %s", got)
	}
	if len(gw.submissions()) != 0 {
		t.Error("expected no submission before the debounce fires")
	}
}

func TestFlushConfirmsAndEmptiesStore(t *testing.T) {
	gw := newFakeGateway()
	e, st, tr, _ := setupTestEngine(t, gw)

	e.FieldEdited("q1", "42")
	if !e.flushField(context.Background(), "q1") {
		t.Fatal("expected flush to succeed")
	}

	if got := tr.GetState("q1"); got != answer.StateDatabase {
		t.Errorf("expected database state, got %s", got)
	}
	if _, ok, _ := st.Get("q1"); ok {
		t.Error("confirmed answer must not linger in the local store")
	}

	subs := gw.submissions()
	if len(subs) != 1 || subs[0].QuestionID != "q1" || subs[0].Answer != "42" || subs[0].UserID != "u1" {
		t.Errorf("unexpected submission: %+v", subs)
	}
}

func TestSubFieldSubmitsUnderParent(t *testing.T) {
	gw := newFakeGateway()
	e, _, _, _ := setupTestEngine(t, gw)

	e.FieldEdited("10", "a")
	e.flushField(context.Background(), "10")

	subs := gw.submissions()
	if len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(subs))
	}
	if subs[0].QuestionID != "q2" || subs[0].SubQuestionID != "10" || subs[0].Answer != "a" {
		t.Errorf("sub-question not mapped to its parent: %+v", subs[0])
	}
}

func TestFailedFlushDegradesToLocalStore(t *testing.T) {
	gw := newFakeGateway()
	gw.setSubmitErr(gateway.ErrOffline)
	e, st, tr, model := setupTestEngine(t, gw)

	e.FieldEdited("q1", "42")
	if e.flushField(context.Background(), "q1") {
		t.Fatal("expected flush to fail")
	}

	rec, ok, err := st.Get("q1")
	if err != nil || !ok {
		t.Fatalf("expected a durable local record, got ok=%v err=%v", ok, err)
	}
	if rec.Value != "42" || rec.SaveState != answer.StateLocal {
		t.Errorf("unexpected local record: %+v", rec)
	}
	if got := tr.GetState("q1"); got != answer.StateLocal {
		t.Errorf("expected local state, got %s", got)
	}
	if got := model.Value("q1"); got != "42" {
		t.Errorf("failed sync must not disturb the visible value, got %q", got)
	}
	if e.Online() {
		t.Error("expected engine to go offline after a failed write")
	}
}

func TestFlushPendingAfterReconnect(t *testing.T) {
	gw := newFakeGateway()
	gw.setSubmitErr(gateway.ErrOffline)
	e, st, tr, _ := setupTestEngine(t, gw)

	e.FieldEdited("q1", "42")
	e.FieldEdited("q3", "hello")
	e.flushField(context.Background(), "q1")
	e.flushField(context.Background(), "q3")

	gw.setSubmitErr(nil)
	flushed, failed := e.FlushPending(context.Background(), true)
	if flushed != 2 || failed != 0 {
		t.Fatalf("expected 2 flushed 0 failed, got %d/%d", flushed, failed)
	}

	for _, id := range []string{"q1", "q3"} {
		if got := tr.GetState(id); got != answer.StateDatabase {
			t.Errorf("expected %s confirmed, got %s", id, got)
		}
		if _, ok, _ := st.Get(id); ok {
			t.Errorf("expected %s evicted from the store", id)
		}
	}
}

func TestFlushPendingRespectsBackoffGates(t *testing.T) {
	gw := newFakeGateway()
	gw.setSubmitErr(gateway.ErrOffline)
	e, _, _, _ := setupTestEngine(t, gw)
	e.cfg.BackoffBase = time.Hour

	e.FieldEdited("q1", "42")
	e.flushField(context.Background(), "q1")

	gw.setSubmitErr(nil)
	if flushed, failed := e.FlushPending(context.Background(), false); flushed != 0 || failed != 0 {
		t.Errorf("expected the backoff gate to skip the field, got %d/%d", flushed, failed)
	}
	if flushed, _ := e.FlushPending(context.Background(), true); flushed != 1 {
		t.Errorf("expected force to bypass the gate, got %d flushed", flushed)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	e, _, _, _ := setupTestEngine(t, newFakeGateway())
	e.cfg.BackoffBase = 30 * time.Second
	e.cfg.BackoffCap = 5 * time.Minute

	want := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		5 * time.Minute,
		5 * time.Minute,
	}
	prev := time.Duration(0)
	for i, w := range want {
		got := e.backoffDelay(i + 1)
		if got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", i+1, got, w)
		}
		if got < prev {
			t.Errorf("backoff must be non-decreasing: %v after %v", got, prev)
		}
		prev = got
	}
}

func TestUnknownFieldPurged(t *testing.T) {
	gw := newFakeGateway()
	gw.unknown["q1"] = true
	n := &recordingNotifier{}

	e, st, tr, _ := setupTestEngine(t, gw)
	e.SetNotifier(n)

	e.FieldEdited("q1", "42")
	if !e.flushField(context.Background(), "q1") {
		t.Fatal("a dead identifier must not stay in the retry set")
	}

	if got := tr.GetState("q1"); got != answer.StateNone {
		t.Errorf("expected state none after purge, got %s", got)
	}
	if _, ok, _ := st.Get("q1"); ok {
		t.Error("expected purged answer removed from the store")
	}
	if len(n.ofType(EventFieldPurged)) != 1 {
		t.Error("expected a purge event")
	}
}

func TestClearedFieldPropagatesDeletion(t *testing.T) {
	gw := newFakeGateway()
	e, st, tr, model := setupTestEngine(t, gw)

	e.FieldEdited("q1", "42")
	e.flushField(context.Background(), "q1")

	e.FieldEdited("q1", "")
	if got := model.Value("q1"); got != "" {
		t.Errorf("expected cleared value, got %q", got)
	}
	if got := tr.GetState("q1"); got != answer.StateNone {
		t.Errorf("expected state none on clear, got %s", got)
	}
	if _, ok, _ := st.Get("q1"); ok {
		t.Error("expected cached record dropped on clear")
	}

	e.flushField(context.Background(), "q1")
	subs := gw.submissions()
	if len(subs) != 2 || subs[1].Answer != "" {
		t.Errorf("expected an empty submission propagating the clear, got %+v", subs)
	}
}

func TestOfflineClearRetriedAsDelete(t *testing.T) {
	gw := newFakeGateway()
	e, _, _, _ := setupTestEngine(t, gw)

	e.FieldEdited("q1", "42")
	e.flushField(context.Background(), "q1")

	gw.setSubmitErr(gateway.ErrOffline)
	e.FieldEdited("q1", "")
	e.flushField(context.Background(), "q1")

	gw.setSubmitErr(nil)
	flushed, _ := e.FlushPending(context.Background(), true)
	if flushed != 1 {
		t.Fatalf("expected the pending deletion flushed, got %d", flushed)
	}

	subs := gw.submissions()
	last := subs[len(subs)-1]
	if last.QuestionID != "q1" || last.Answer != "" {
		t.Errorf("expected empty q1 submission, got %+v", last)
	}
}

func TestSweepConfirmedDropsOnlyConfirmedRecords(t *testing.T) {
	gw := newFakeGateway()
	e, st, tr, _ := setupTestEngine(t, gw)

	// q3 was confirmed in a past session but its offline marker survived.
	if err := st.Put("q3", "stale", answer.StateLocal); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	tr.SetState("q3", answer.StateDatabase)

	// q1 is genuinely unsynced and must survive the sweep.
	if err := st.Put("q1", "7", answer.StateLocal); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	tr.SetState("q1", answer.StateLocal)

	e.FieldEdited("10", "a")
	e.flushField(context.Background(), "10")

	if _, ok, _ := st.Get("q3"); ok {
		t.Error("expected the confirmed leftover swept")
	}
	if _, ok, _ := st.Get("q1"); !ok {
		t.Error("sweep must not discard unsynced records")
	}
}

func TestReconcileDatabaseWins(t *testing.T) {
	gw := newFakeGateway()
	gw.answers["q1"] = gateway.Answer{Value: "5"}
	gw.answers["q2"] = gateway.Answer{Value: "10:a;11:b"}

	e, st, tr, model := setupTestEngine(t, gw)

	// Stale local copy that the server has since superseded.
	if err := st.Put("q1", "old", answer.StateLocal); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := e.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := model.Value("q1"); got != "5" {
		t.Errorf("expected server value to win, got %q", got)
	}
	if got := tr.GetState("q1"); got != answer.StateDatabase {
		t.Errorf("expected database state, got %s", got)
	}
	if _, ok, _ := st.Get("q1"); ok {
		t.Error("expected stale local copy evicted")
	}

	if got := model.Value("10"); got != "a" {
		t.Errorf("expected composite sub 10 = a, got %q", got)
	}
	if got := model.Value("11"); got != "b" {
		t.Errorf("expected composite sub 11 = b, got %q", got)
	}
	if got := tr.GetState("10"); got != answer.StateDatabase {
		t.Errorf("expected sub-answer confirmed, got %s", got)
	}
}

func TestReconcileEmptySubValueClears(t *testing.T) {
	gw := newFakeGateway()
	gw.answers["q2"] = gateway.Answer{Value: "10:;11:b"}

	e, st, tr, model := setupTestEngine(t, gw)
	if err := st.Put("10", "stale", answer.StateLocal); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := e.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := model.Value("10"); got != "" {
		t.Errorf("expected explicit clear for sub 10, got %q", got)
	}
	if got := tr.GetState("10"); got != answer.StateNone {
		t.Errorf("expected state none after clear, got %s", got)
	}
	if _, ok, _ := st.Get("10"); ok {
		t.Error("expected stale cached sub-answer evicted")
	}
	if got := model.Value("11"); got != "b" {
		t.Errorf("expected sub 11 restored, got %q", got)
	}
}

func TestReconcileOfflineRestoresFromCache(t *testing.T) {
	gw := newFakeGateway()
	gw.fetchErr = errors.New("connection refused")

	e, st, tr, model := setupTestEngine(t, gw)
	if err := st.Put("q3", "hello", answer.StateLocal); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := e.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := model.Value("q3"); got != "hello" {
		t.Errorf("expected cached value restored, got %q", got)
	}
	if got := tr.GetState("q3"); got != answer.StateLocal {
		t.Errorf("expected local state, got %s", got)
	}
	if e.Online() {
		t.Error("expected offline after fetch failure")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	gw := newFakeGateway()
	gw.answers["q1"] = gateway.Answer{Value: "5"}

	e, _, tr, model := setupTestEngine(t, gw)

	for i := 0; i < 2; i++ {
		if err := e.Reconcile(context.Background()); err != nil {
			t.Fatalf("Reconcile pass %d failed: %v", i+1, err)
		}
	}

	if got := model.Value("q1"); got != "5" {
		t.Errorf("second pass changed the value: %q", got)
	}
	if got := tr.GetState("q1"); got != answer.StateDatabase {
		t.Errorf("second pass changed the state: %s", got)
	}
}

func TestSnapshotUnconfirmed(t *testing.T) {
	gw := newFakeGateway()
	e, st, tr, model := setupTestEngine(t, gw)

	model.SetValue("q1", "7")
	tr.SetState("q1", answer.StateUnsaved)
	model.SetValue("q3", "done")
	tr.SetState("q3", answer.StateDatabase)

	e.SnapshotUnconfirmed(context.Background())

	rec, ok, _ := st.Get("q1")
	if !ok || rec.Value != "7" || rec.SaveState != answer.StateUnsaved {
		t.Errorf("expected unsaved q1 snapshotted, got ok=%v rec=%+v", ok, rec)
	}
	if _, ok, _ := st.Get("q3"); ok {
		t.Error("confirmed fields must not be snapshotted")
	}
}

func TestClearLocal(t *testing.T) {
	gw := newFakeGateway()
	gw.setSubmitErr(gateway.ErrOffline)
	e, st, tr, _ := setupTestEngine(t, gw)

	e.FieldEdited("q1", "42")
	e.flushField(context.Background(), "q1")

	if err := e.ClearLocal(context.Background()); err != nil {
		t.Fatalf("ClearLocal failed: %v", err)
	}

	if n, _ := st.Count(); n != 0 {
		t.Errorf("expected empty store, got %d records", n)
	}
	if got := tr.GetState("q1"); got != answer.StateNone {
		t.Errorf("expected unsynced state forgotten, got %s", got)
	}
}

func TestEventsOnFlushOutcomes(t *testing.T) {
	gw := newFakeGateway()
	n := &recordingNotifier{}
	e, _, _, _ := setupTestEngine(t, gw)
	e.SetNotifier(n)

	gw.setSubmitErr(gateway.ErrOffline)
	e.FieldEdited("q1", "42")
	e.flushField(context.Background(), "q1")
	if len(n.ofType(EventFieldLocal)) != 1 {
		t.Error("expected a field_local event after a failed flush")
	}

	gw.setSubmitErr(nil)
	e.FlushPending(context.Background(), true)
	if len(n.ofType(EventFieldSaved)) != 1 {
		t.Error("expected a field_saved event after the retry succeeded")
	}
	done := n.ofType(EventSyncComplete)
	if len(done) != 1 || done[0].Flushed != 1 {
		t.Errorf("expected a sync_complete event with 1 flushed, got %+v", done)
	}
}

func TestDebounceTimerFlushesAutomatically(t *testing.T) {
	gw := newFakeGateway()
	e, _, tr, _ := setupTestEngine(t, gw)
	e.cfg.Debounce = 20 * time.Millisecond

	e.FieldEdited("q1", "42")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.GetState("q1") == answer.StateDatabase {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("debounced flush never confirmed the field")
}
