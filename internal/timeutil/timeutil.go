// Package timeutil normalizes session timestamps. All values are
// stored and rendered as RFC3339Nano in UTC.
package timeutil

import "time"

// Parse parses an ISO-8601 timestamp string. It accepts RFC3339
// with or without fractional seconds. Returns the zero time when
// the string is empty or unparseable.
func Parse(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// Format renders t as RFC3339Nano in UTC, or "" for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Ptr returns a pointer to the formatted timestamp, or nil for
// the zero time. Useful for nullable database columns.
func Ptr(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := Format(t)
	return &s
}
