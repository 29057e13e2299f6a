// Package tracker maintains the in-memory save-state mirror for form fields.
//
// The tracker is the single source of truth for per-field lifecycle state.
// Other components query it; none of them infer state from rendered output
// or from store membership. It is kept consistent with the local answer
// store by the sync engine, which owns all transitions.
package tracker

import (
	"sort"
	"sync"

	"github.com/surveykit/fieldsync/internal/answer"
)

// Tracker records the save state of every field the session has touched.
// Safe for concurrent use; all access is serialized by an internal mutex.
type Tracker struct {
	mu     sync.Mutex
	states map[string]answer.SaveState
}

// New creates an empty tracker. Every field starts in StateNone.
func New() *Tracker {
	return &Tracker{
		states: make(map[string]answer.SaveState),
	}
}

// GetState returns the current state of fieldID. Untracked fields are
// StateNone.
func (t *Tracker) GetState(fieldID string) answer.SaveState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state, ok := t.states[fieldID]; ok {
		return state
	}
	return answer.StateNone
}

// SetState records a new state for fieldID. Setting StateNone removes the
// entry entirely, so the tracked set stays bounded by the fields that
// actually hold values.
func (t *Tracker) SetState(fieldID string, state answer.SaveState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state == answer.StateNone {
		delete(t.states, fieldID)
		return
	}
	t.states[fieldID] = state
}

// Forget drops fieldID from the tracker. Equivalent to SetState(id,
// StateNone); reads as intent at purge call sites.
func (t *Tracker) Forget(fieldID string) {
	t.SetState(fieldID, answer.StateNone)
}

// States returns a snapshot copy of every tracked field state.
func (t *Tracker) States() map[string]answer.SaveState {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]answer.SaveState, len(t.states))
	for id, state := range t.states {
		snapshot[id] = state
	}
	return snapshot
}

// Pending returns the fields with unsynced local changes, sorted for
// deterministic flush order in tests and logs.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []string
	for id, state := range t.states {
		if state == answer.StateLocal {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending
}

// Unsynced reports whether any field is in local or unsaved state.
func (t *Tracker) Unsynced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, state := range t.states {
		if state.Persistable() {
			return true
		}
	}
	return false
}
