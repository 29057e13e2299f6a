package engine

import (
	"time"

	"github.com/surveykit/fieldsync/internal/answer"
)

// EventType classifies engine notifications.
type EventType string

const (
	// EventFieldPending fires shortly after an edit, once the debounce
	// window is armed. The renderer uses it for immediate feedback.
	EventFieldPending EventType = "field_pending"

	// EventFieldSaved fires when the gateway confirms a value.
	EventFieldSaved EventType = "field_saved"

	// EventFieldLocal fires when a value degrades to local-only storage
	// after a failed or offline write.
	EventFieldLocal EventType = "field_local"

	// EventFieldCleared fires when a field is emptied and its indicator
	// should disappear.
	EventFieldCleared EventType = "field_cleared"

	// EventFieldPurged fires when the gateway reports the question no
	// longer exists and the cached value was dropped.
	EventFieldPurged EventType = "field_purged"

	// EventSyncComplete fires after a flush pass over pending fields.
	EventSyncComplete EventType = "sync_complete"

	// EventStorageError fires when the local cache hit a disk or quota
	// limit. The session continues with in-memory durability only.
	EventStorageError EventType = "storage_error"
)

// Event is one engine notification. FieldID and State are set for
// per-field events; Flushed/Failed for sync passes; Err for storage
// errors.
type Event struct {
	Type      EventType
	FieldID   string
	State     answer.SaveState
	Flushed   int
	Failed    int
	Err       error
	Timestamp time.Time
}

// Notifier receives engine events. The dashboard implements it; the
// renderer may too. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// nopNotifier discards events; used when no notifier is attached.
type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
