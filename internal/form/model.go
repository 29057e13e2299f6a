package form

import (
	"sync"

	"github.com/surveykit/fieldsync/internal/answer"
)

// Model holds the current value of every answerable field in a form
// session. It is the value the user sees; the local answer store holds
// only the subset not yet confirmed remotely.
//
// Safe for concurrent use. Change subscribers are invoked synchronously
// on the mutating goroutine, after the lock is released.
type Model struct {
	def *Definition

	mu     sync.RWMutex
	values map[string]string

	subMu       sync.Mutex
	subscribers []func(fieldID string)
}

// NewModel creates an empty model over the given definition.
func NewModel(def *Definition) *Model {
	return &Model{
		def:    def,
		values: make(map[string]string),
	}
}

// Definition returns the questionnaire layout backing this model.
func (m *Model) Definition() *Definition {
	return m.def
}

// SetValue stores the normalized value for fieldID. An empty (or
// whitespace-only) value clears the field instead.
func (m *Model) SetValue(fieldID, raw string) {
	v := answer.Normalize(raw)

	m.mu.Lock()
	if v == "" {
		delete(m.values, fieldID)
	} else {
		m.values[fieldID] = v
	}
	m.mu.Unlock()

	m.notify(fieldID)
}

// ClearValue removes the value for fieldID.
func (m *Model) ClearValue(fieldID string) {
	m.SetValue(fieldID, "")
}

// Value returns the current value for fieldID; empty string means
// unanswered.
func (m *Model) Value(fieldID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[fieldID]
}

// Values returns a snapshot copy of all non-empty field values.
func (m *Model) Values() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]string, len(m.values))
	for id, v := range m.values {
		snapshot[id] = v
	}
	return snapshot
}

// Answered reports whether fieldID currently counts as answered. A
// checkbox counts only when checked; every other kind counts when it
// holds a non-empty value. Save state is deliberately not consulted —
// answered-but-unsynced and answered-from-database both count.
func (m *Model) Answered(fieldID string) bool {
	v := m.Value(fieldID)
	if v == "" {
		return false
	}
	if kind, ok := m.def.KindOf(fieldID); ok && kind == KindCheckbox {
		return v == "true"
	}
	return true
}

// Subscribe registers a callback invoked after every value change.
func (m *Model) Subscribe(fn func(fieldID string)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Model) notify(fieldID string) {
	m.subMu.Lock()
	subs := make([]func(string), len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(fieldID)
	}
}
