package parser

import (
	"strings"
	"testing"
	"time"
)

// Fixed timestamps shared across parser tests. The S-suffix encodes
// the seconds offset from the base.
const (
	tsZero    = "2024-01-01T00:00:00Z"
	tsZeroS1  = "2024-01-01T00:00:01Z"
	tsZeroS2  = "2024-01-01T00:00:02Z"
	tsEarly   = "2024-01-01T10:00:00Z"
	tsEarlyS1 = "2024-01-01T10:00:01Z"
	tsEarlyS5 = "2024-01-01T10:00:05Z"
	tsLate    = "2024-01-01T10:01:00Z"
	tsLateS5  = "2024-01-01T10:01:05Z"
)

// generateLargeString produces filler content for size-limit tests.
func generateLargeString(size int) string {
	return strings.Repeat("x", size)
}

func assertSessionMeta(t *testing.T, s *ParsedSession, wantID, wantProject string, wantAgent AgentType) {
	t.Helper()
	if s == nil {
		t.Fatal("session is nil")
	}
	if s.ID != wantID {
		t.Errorf("session ID = %q, want %q", s.ID, wantID)
	}
	if s.Project != wantProject {
		t.Errorf("project = %q, want %q", s.Project, wantProject)
	}
	if s.Agent != wantAgent {
		t.Errorf("agent = %q, want %q", s.Agent, wantAgent)
	}
}

// assertMessage checks the role and, when wantContentSnippet is
// non-empty, that the content contains it.
func assertMessage(t *testing.T, m ParsedMessage, wantRole RoleType, wantContentSnippet string) {
	t.Helper()
	if m.Role != wantRole {
		t.Errorf("role = %q, want %q", m.Role, wantRole)
	}
	if wantContentSnippet != "" && !strings.Contains(m.Content, wantContentSnippet) {
		t.Errorf("content missing snippet %q, got %q", wantContentSnippet, m.Content)
	}
}

func assertMessageCount(t *testing.T, count, want int) {
	t.Helper()
	if count != want {
		t.Fatalf("message count = %d, want %d", count, want)
	}
}

func assertTimestamp(t *testing.T, got, want time.Time) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("timestamp = %v, want %v", got, want)
	}
}

func assertZeroTimestamp(t *testing.T, ts time.Time, label string) {
	t.Helper()
	if !ts.IsZero() {
		t.Errorf("%s = %v, want zero", label, ts)
	}
}
