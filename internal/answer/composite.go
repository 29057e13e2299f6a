package answer

import (
	"strings"
)

// SubAnswer is one decomposed sub-question value from a composite remote
// answer.
type SubAnswer struct {
	// SubID is the sub-question identifier.
	SubID string
	// Value is the sub-question's answer. Empty means an explicit clear,
	// not "no information".
	Value string
}

// DecodeComposite splits a composite remote answer of the form
//
//	subId1:value1;subId2:value2
//
// into its parts, in order. Malformed segments (no separator, or an empty
// sub-question id) are skipped; well-formed segments in the same payload
// are still returned. An empty value after the separator is preserved —
// it encodes an explicit clear of that sub-question.
func DecodeComposite(s string) []SubAnswer {
	if s == "" {
		return nil
	}

	var subs []SubAnswer
	for _, segment := range strings.Split(s, ";") {
		if segment == "" {
			continue
		}

		id, value, found := strings.Cut(segment, ":")
		if !found {
			continue
		}

		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		subs = append(subs, SubAnswer{SubID: id, Value: strings.TrimSpace(value)})
	}

	return subs
}

// EncodeComposite joins sub-answers back into the gateway's composite
// format. This is the inverse of DecodeComposite for well-formed input.
func EncodeComposite(subs []SubAnswer) string {
	parts := make([]string, 0, len(subs))
	for _, sub := range subs {
		if sub.SubID == "" {
			continue
		}
		parts = append(parts, sub.SubID+":"+sub.Value)
	}
	return strings.Join(parts, ";")
}
