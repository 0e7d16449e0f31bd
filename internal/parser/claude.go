package parser

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/agentsync/agentsync/internal/timeutil"
)

const (
	initialScanBufSize = 64 * 1024        // 64KB
	maxScanTokenSize   = 20 * 1024 * 1024 // 20MB
)

// ParseClaudeSession parses a Claude Code JSONL session file.
// Malformed lines are skipped; only I/O failures return an error.
func ParseClaudeSession(
	path, project, machine string,
) (ParsedSession, []ParsedMessage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ParsedSession{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	f, err := os.Open(path)
	if err != nil {
		return ParsedSession{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		messages  []ParsedMessage
		firstMsg  string
		startedAt time.Time
		endedAt   time.Time
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(
		make([]byte, 0, initialScanBufSize), maxScanTokenSize,
	)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !gjson.Valid(line) {
			continue
		}

		// Events store their timestamp at the top level; snapshot
		// entries nest it one level down.
		tsRes := gjson.Get(line, "timestamp")
		if !tsRes.Exists() {
			tsRes = gjson.Get(line, "snapshot.timestamp")
		}
		tsStr := tsRes.Str
		if ts := timeutil.Parse(tsStr); !ts.IsZero() {
			if startedAt.IsZero() || ts.Before(startedAt) {
				startedAt = ts
			}
			if endedAt.IsZero() || ts.After(endedAt) {
				endedAt = ts
			}
		}

		role := gjson.Get(line, "type").Str
		if role != "user" && role != "assistant" {
			continue
		}

		content := ExtractTextContent(gjson.Get(line, "message.content"))
		if strings.TrimSpace(content) == "" {
			continue
		}

		if role == "user" && firstMsg == "" {
			firstMsg = summarizeFirstMessage(content)
		}

		messages = append(messages, ParsedMessage{
			MsgID:     makeMsgID(tsStr, len(messages)),
			Role:      RoleType(role),
			Content:   content,
			Timestamp: tsStr,
		})
	}

	if err := scanner.Err(); err != nil {
		return ParsedSession{}, nil,
			fmt.Errorf("scanning %s: %w", path, err)
	}

	sess := ParsedSession{
		ID:           sessionID,
		Project:      project,
		Machine:      machine,
		Agent:        AgentClaude,
		FirstMessage: firstMsg,
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		MessageCount: len(messages),
		File: FileInfo{
			Path:  path,
			Size:  info.Size(),
			Mtime: info.ModTime().UnixNano(),
		},
	}

	return sess, messages, nil
}
