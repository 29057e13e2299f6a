package answer

import (
	"strings"
	"time"
)

// dateLayouts are the input shapes accepted for date answers, tried in
// order. All of them normalize to YYYY-MM-DD.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
}

// Normalize converts a raw answer value to its canonical stored form.
//
// Whitespace is trimmed. Boolean spellings collapse to "true"/"false".
// Recognizable dates are reformatted to YYYY-MM-DD. Anything else passes
// through unchanged — numbers are already strings at this boundary.
func Normalize(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}

	switch strings.ToLower(v) {
	case "true", "yes", "on":
		return "true"
	case "false", "no", "off":
		return "false"
	}

	if d, ok := NormalizeDate(v); ok {
		return d
	}

	return v
}

// NormalizeDate reports whether v parses as a date and, if so, returns it
// formatted as YYYY-MM-DD.
func NormalizeDate(v string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
