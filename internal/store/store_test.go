package store

import (
	"path/filepath"
	"testing"

	"github.com/surveykit/fieldsync/internal/answer"
)

// setupTestStore creates a temporary answer cache for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "answers.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestPutGet(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Put("q1", "5", answer.StateLocal); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, ok, err := s.Get("q1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Value != "5" {
		t.Errorf("expected value %q, got %q", "5", rec.Value)
	}
	if rec.SaveState != answer.StateLocal {
		t.Errorf("expected state local, got %q", rec.SaveState)
	}
	if rec.Timestamp.IsZero() {
		t.Error("expected fresh timestamp")
	}
}

func TestGetAbsent(t *testing.T) {
	s := setupTestStore(t)

	_, ok, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected absent record")
	}
}

func TestPutUpserts(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Put("q1", "first", answer.StateLocal); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("q1", "second", answer.StateUnsaved); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, ok, err := s.Get("q1")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if rec.Value != "second" || rec.SaveState != answer.StateUnsaved {
		t.Errorf("upsert did not replace record: %+v", rec)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record after upsert, got %d", count)
	}
}

func TestPutEmptyValueDeletes(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Put("q1", "5", answer.StateLocal); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Clearing overrides writing.
	if err := s.Put("q1", "   ", answer.StateLocal); err != nil {
		t.Fatalf("Put empty failed: %v", err)
	}

	_, ok, err := s.Get("q1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected record to be deleted by empty put")
	}
}

func TestPutRejectsConfirmedState(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Put("q1", "5", answer.StateDatabase); err == nil {
		t.Error("expected confirmed state to be rejected by the store")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("Delete of absent record should be nil, got %v", err)
	}
}

func TestGetAll(t *testing.T) {
	s := setupTestStore(t)

	if err := s.Put("q1", "a", answer.StateLocal); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("q2", "b", answer.StateUnsaved); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all["q1"].Value != "a" || all["q2"].Value != "b" {
		t.Errorf("unexpected records: %+v", all)
	}
}

func TestClear(t *testing.T) {
	s := setupTestStore(t)

	for _, id := range []string{"q1", "q2", "q3"} {
		if err := s.Put(id, "v", answer.StateLocal); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty store after clear, got %d records", count)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.Put("q1", "survives", answer.StateLocal); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	rec, ok, err := reopened.Get("q1")
	if err != nil || !ok {
		t.Fatalf("record lost across reopen: ok=%v err=%v", ok, err)
	}
	if rec.Value != "survives" {
		t.Errorf("expected value preserved, got %q", rec.Value)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.RawDB().Exec(
		"UPDATE meta SET value = ? WHERE key = 'schema_version'", schemaVersion+1); err != nil {
		t.Fatalf("failed to bump schema version: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := Open(path); err == nil {
		t.Error("expected open to reject a newer schema version")
	}
}
