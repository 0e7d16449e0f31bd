package parser

import "time"

// AgentType identifies which log grammar produced a session.
type AgentType string

const (
	AgentClaude AgentType = "claude"
	AgentCodex  AgentType = "codex"
)

// CodexIDPrefix namespaces Codex session IDs so they can never
// collide with Claude session IDs, which are bare UUID stems.
const CodexIDPrefix = "codex:"

// RoleType identifies the role of a message sender.
type RoleType string

const (
	RoleUser      RoleType = "user"
	RoleAssistant RoleType = "assistant"
)

// FileInfo holds filesystem metadata for a session source file.
// Size and Hash together form the fingerprint consulted by the
// change detector on later syncs.
type FileInfo struct {
	Path  string
	Size  int64
	Mtime int64
	Hash  string
}

// ParsedSession holds session metadata extracted from a JSONL file.
// StartedAt and EndedAt are the min and max timestamps seen across
// all events in the file, kept or not; either may be zero.
type ParsedSession struct {
	ID           string
	Project      string
	Machine      string
	Agent        AgentType
	FirstMessage string
	StartedAt    time.Time
	EndedAt      time.Time
	MessageCount int
	File         FileInfo
}

// ParsedMessage holds a single extracted message. Timestamp keeps
// the raw source string so MsgID and the stored value always agree
// with the source bytes.
type ParsedMessage struct {
	MsgID     string
	Role      RoleType
	Content   string
	Timestamp string
}
