package form

import (
	"math"
)

// Snapshot is a derived progress count for one scope. It is never cached:
// every call recomputes from the live model, so repeated calls with no
// intervening edits return identical snapshots.
type Snapshot struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
	Percent  int `json:"percent"`
}

// Progress computes progress over the whole form.
func (m *Model) Progress() Snapshot {
	return m.snapshotFor(m.def.AnswerableIDs())
}

// ProgressField computes progress for one field container: the field
// itself, or all of its sub-fields for a composite question.
func (m *Model) ProgressField(fieldID string) Snapshot {
	return m.snapshotFor(m.def.fieldScope(fieldID))
}

// ProgressTopic computes progress across every field in a topic.
func (m *Model) ProgressTopic(topicID string) Snapshot {
	return m.snapshotFor(m.def.topicScope(topicID))
}

// ProgressCategory computes progress across every field in a category.
func (m *Model) ProgressCategory(categoryID string) Snapshot {
	return m.snapshotFor(m.def.categoryScope(categoryID))
}

func (m *Model) snapshotFor(ids []string) Snapshot {
	snap := Snapshot{Total: len(ids)}
	if snap.Total == 0 {
		return snap
	}

	for _, id := range ids {
		if m.Answered(id) {
			snap.Answered++
		}
	}

	snap.Percent = int(math.Round(100 * float64(snap.Answered) / float64(snap.Total)))
	return snap
}
