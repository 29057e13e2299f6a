// Package gateway defines the remote answer gateway boundary and its
// HTTP implementation.
//
// The sync engine only ever sees this package's interface and sentinel
// errors; the wire protocol lives entirely here.
package gateway

import (
	"context"
)

// Answer is one saved value as reported by the gateway. A single answer
// may encode several sub-question values in composite form
// ("subId1:value1;subId2:value2") — decomposition is the caller's job,
// since only the form definition knows which questions are composite.
type Answer struct {
	Value string `json:"value"`
}

// Submission is one answer write. SubQuestionID is empty for regular
// questions; on the wire it is sent as null.
type Submission struct {
	QuestionID    string
	SubQuestionID string
	Answer        string
	UserID        string
}

// Profile carries the update-profile payload. It shares the gateway's
// transport but is unrelated to answer synchronization.
type Profile struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	School string `json:"school,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Gateway is the remote persistence boundary.
//
// Implementations must map every transport-level failure to ErrOffline
// and the server's "question no longer exists" signal to ErrUnknownField;
// the sync engine does not distinguish failures any further.
type Gateway interface {
	// SavedAnswers fetches all answers the server has accepted for the
	// session's user. Used once per form load for the database-first
	// reconciliation pass.
	SavedAnswers(ctx context.Context) (map[string]Answer, error)

	// SubmitAnswer writes one answer. Empty answers are submitted too —
	// a cleared field must propagate so the server reflects it.
	SubmitAnswer(ctx context.Context, sub Submission) error

	// UpdateProfile updates the user's profile record.
	UpdateProfile(ctx context.Context, p Profile) error

	// Healthy probes connectivity. Used by the sync engine to detect
	// offline-to-online transitions.
	Healthy(ctx context.Context) bool
}
