// Package answer provides data structures for survey answer records.
package answer

import (
	"fmt"
	"time"
)

// SaveState describes where a field's authoritative value currently lives.
//
// The lifecycle is:
//   - StateNone: no value, or value confirmed gone
//   - StateUnsaved: edited, a sync attempt is pending or in flight
//   - StateLocal: written to the local cache after an offline edit or a
//     failed remote write; queued for retry
//   - StateDatabase: confirmed written to the remote gateway
type SaveState string

const (
	// StateNone means the field has no tracked value.
	StateNone SaveState = "none"
	// StateLocal means the value is cached locally and awaits sync.
	StateLocal SaveState = "local"
	// StateUnsaved means the value has a pending sync attempt.
	StateUnsaved SaveState = "unsaved"
	// StateDatabase means the remote gateway confirmed the value.
	StateDatabase SaveState = "database"
)

// String returns the wire representation of the state.
func (s SaveState) String() string {
	return string(s)
}

// Valid reports whether s is one of the four known states.
func (s SaveState) Valid() bool {
	switch s {
	case StateNone, StateLocal, StateUnsaved, StateDatabase:
		return true
	default:
		return false
	}
}

// Persistable reports whether a record in this state may exist in the
// local answer store. Only not-yet-confirmed values are stored: presence
// in the store implies StateLocal or StateUnsaved.
func (s SaveState) Persistable() bool {
	return s == StateLocal || s == StateUnsaved
}

// FieldRecord is one cached answer, keyed by field identifier.
//
// A field is either a regular question or a sub-question; both live in the
// same identifier space. Values are always stored as normalized strings
// (see Normalize).
type FieldRecord struct {
	FieldID   string    `json:"field_id"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	SaveState SaveState `json:"save_state"`
}

// Validate checks that the record is storable.
func (r *FieldRecord) Validate() error {
	if r.FieldID == "" {
		return fmt.Errorf("field_id is required")
	}
	if r.Value == "" {
		return fmt.Errorf("value is required (empty values are deletions, not records)")
	}
	if !r.SaveState.Valid() {
		return fmt.Errorf("invalid save state %q", r.SaveState)
	}
	if !r.SaveState.Persistable() {
		return fmt.Errorf("state %q is not storable; the store holds only unconfirmed values", r.SaveState)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
