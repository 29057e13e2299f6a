// Package store provides the durable local answer cache for fieldsync.
//
// The store is the single durable home for answers that have not yet been
// confirmed by the remote gateway. It runs on embedded SQLite with WAL
// mode so a crash or process kill between sync windows cannot lose an
// answer that was already written.
//
// Membership invariant: a record exists in the store if and only if its
// save state is local or unsaved. The moment the gateway confirms a
// value, its record is deleted — the store is exclusively the set of
// not-yet-confirmed-remote values.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/surveykit/fieldsync/internal/answer"
)

// schemaVersion is the current layout of the answers database. Open
// refuses databases written by a newer fieldsync rather than guessing.
const schemaVersion = 1

// ErrStorageFull indicates the local database hit a disk or quota limit.
// The session continues with in-memory state; the caller reports the
// condition without aborting.
var ErrStorageFull = errors.New("local answer storage exhausted")

// Store wraps the embedded SQLite connection holding cached answers.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the answer cache at the given path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The schema is created if missing. The caller MUST call Close() when
// done so the WAL is checkpointed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open answer cache: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping answer cache: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the on-disk location of the cache.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close answer cache: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the answers table and verifies the schema version.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS answers (
		field_id   TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		timestamp  TEXT NOT NULL,
		save_state TEXT NOT NULL CHECK (save_state IN ('local', 'unsaved'))
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.conn.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES ('schema_version', ?)", schemaVersion)
		if err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version > schemaVersion:
		return fmt.Errorf("answer cache schema version %d is newer than supported %d", version, schemaVersion)
	}

	return nil
}

// Put upserts a cached answer for fieldID with a fresh timestamp.
//
// If value trims to empty, any existing record is deleted instead —
// clearing overrides writing. Only local and unsaved states are
// storable; anything else is a programming error.
func (s *Store) Put(fieldID, value string, state answer.SaveState) error {
	return s.PutContext(context.Background(), fieldID, value, state)
}

// PutContext upserts a cached answer with context support.
func (s *Store) PutContext(ctx context.Context, fieldID, value string, state answer.SaveState) error {
	if fieldID == "" {
		return fmt.Errorf("field id is required")
	}

	if strings.TrimSpace(value) == "" {
		return s.DeleteContext(ctx, fieldID)
	}

	rec := answer.FieldRecord{
		FieldID:   fieldID,
		Value:     value,
		Timestamp: time.Now().UTC(),
		SaveState: state,
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid answer record: %w", err)
	}

	query := `
	INSERT INTO answers (field_id, value, timestamp, save_state)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(field_id) DO UPDATE SET
		value = excluded.value,
		timestamp = excluded.timestamp,
		save_state = excluded.save_state
	`

	_, err := s.conn.ExecContext(ctx, query,
		rec.FieldID, rec.Value, rec.Timestamp.Format(time.RFC3339Nano), rec.SaveState.String())
	if err != nil {
		if isFull(err) {
			return fmt.Errorf("failed to cache answer for %s: %w", fieldID, ErrStorageFull)
		}
		return fmt.Errorf("failed to cache answer for %s: %w", fieldID, err)
	}

	return nil
}

// Get returns the cached record for fieldID, if present.
func (s *Store) Get(fieldID string) (answer.FieldRecord, bool, error) {
	return s.GetContext(context.Background(), fieldID)
}

// GetContext returns the cached record with context support.
func (s *Store) GetContext(ctx context.Context, fieldID string) (answer.FieldRecord, bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT field_id, value, timestamp, save_state FROM answers WHERE field_id = ?", fieldID)

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return answer.FieldRecord{}, false, nil
	}
	if err != nil {
		return answer.FieldRecord{}, false, fmt.Errorf("failed to read cached answer %s: %w", fieldID, err)
	}

	return rec, true, nil
}

// GetAll returns every cached record keyed by field identifier.
func (s *Store) GetAll() (map[string]answer.FieldRecord, error) {
	return s.GetAllContext(context.Background())
}

// GetAllContext returns every cached record with context support.
func (s *Store) GetAllContext(ctx context.Context) (map[string]answer.FieldRecord, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT field_id, value, timestamp, save_state FROM answers")
	if err != nil {
		return nil, fmt.Errorf("failed to list cached answers: %w", err)
	}
	defer rows.Close()

	records := make(map[string]answer.FieldRecord)
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached answer: %w", err)
		}
		records[rec.FieldID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cached answers: %w", err)
	}

	return records, nil
}

// Delete removes the cached record for fieldID.
// Returns nil if the record doesn't exist (idempotent).
func (s *Store) Delete(fieldID string) error {
	return s.DeleteContext(context.Background(), fieldID)
}

// DeleteContext removes a cached record with context support.
func (s *Store) DeleteContext(ctx context.Context, fieldID string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM answers WHERE field_id = ?", fieldID); err != nil {
		return fmt.Errorf("failed to delete cached answer %s: %w", fieldID, err)
	}
	return nil
}

// Clear wipes every cached record. Used only for an explicit,
// user-confirmed reset.
func (s *Store) Clear() error {
	return s.ClearContext(context.Background())
}

// ClearContext wipes every cached record with context support.
func (s *Store) ClearContext(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM answers"); err != nil {
		return fmt.Errorf("failed to clear answer cache: %w", err)
	}
	return nil
}

// Count returns the number of cached records.
func (s *Store) Count() (int, error) {
	return s.CountContext(context.Background())
}

// CountContext returns the number of cached records with context support.
func (s *Store) CountContext(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM answers").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cached answers: %w", err)
	}
	return count, nil
}

// scanRecord reads one answers row via the given scan function.
func scanRecord(scan func(...any) error) (answer.FieldRecord, error) {
	var rec answer.FieldRecord
	var ts, state string

	if err := scan(&rec.FieldID, &rec.Value, &ts, &state); err != nil {
		return answer.FieldRecord{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return answer.FieldRecord{}, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	rec.Timestamp = t
	rec.SaveState = answer.SaveState(state)

	return rec, nil
}

// isFull reports whether err is a disk/quota exhaustion error.
func isFull(err error) bool {
	if errors.Is(err, sqlite3.FULL) {
		return true
	}
	return strings.Contains(err.Error(), "database or disk is full")
}
