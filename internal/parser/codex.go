package parser

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/tidwall/gjson"

	"github.com/agentsync/agentsync/internal/timeutil"
)

// Codex JSONL entry types.
const (
	codexTypeSessionMeta  = "session_meta"
	codexTypeResponseItem = "response_item"
	codexOriginatorExec   = "codex_exec"
)

// codexSessionBuilder accumulates state while scanning a Codex
// JSONL session file line by line.
type codexSessionBuilder struct {
	messages     []ParsedMessage
	firstMessage string
	startedAt    time.Time
	endedAt      time.Time
	sessionID    string
	project      string
	includeExec  bool
}

func newCodexSessionBuilder(
	includeExec bool,
) *codexSessionBuilder {
	return &codexSessionBuilder{
		project:     "unknown",
		includeExec: includeExec,
	}
}

// processLine handles a single non-empty, valid JSON line.
// Returns skip=true if the session should be discarded
// (non-interactive codex_exec run).
func (b *codexSessionBuilder) processLine(
	line string,
) (skip bool) {
	tsStr := gjson.Get(line, "timestamp").Str
	if ts := timeutil.Parse(tsStr); !ts.IsZero() {
		if b.startedAt.IsZero() || ts.Before(b.startedAt) {
			b.startedAt = ts
		}
		if b.endedAt.IsZero() || ts.After(b.endedAt) {
			b.endedAt = ts
		}
	}

	payload := gjson.Get(line, "payload")

	switch gjson.Get(line, "type").Str {
	case codexTypeSessionMeta:
		return b.handleSessionMeta(payload)
	case codexTypeResponseItem:
		b.handleResponseItem(payload, tsStr)
	}
	return false
}

func (b *codexSessionBuilder) handleSessionMeta(
	payload gjson.Result,
) (skip bool) {
	b.sessionID = payload.Get("id").Str
	b.project = CodexProjectName(payload.Get("cwd").Str)

	if !b.includeExec &&
		payload.Get("originator").Str == codexOriginatorExec {
		return true
	}
	return false
}

func (b *codexSessionBuilder) handleResponseItem(
	payload gjson.Result, tsStr string,
) {
	if payload.Get("type").Str == "function_call" {
		b.handleFunctionCall(payload, tsStr)
		return
	}

	role := payload.Get("role").Str
	if role != "user" && role != "assistant" {
		return
	}

	content := extractCodexContent(payload)
	if strings.TrimSpace(content) == "" {
		return
	}

	if role == "user" && isCodexSystemMessage(content) {
		return
	}

	if role == "user" && b.firstMessage == "" {
		b.firstMessage = summarizeFirstMessage(content)
	}

	b.messages = append(b.messages, ParsedMessage{
		MsgID:     makeMsgID(tsStr, len(b.messages)),
		Role:      RoleType(role),
		Content:   content,
		Timestamp: tsStr,
	})
}

// handleFunctionCall records a tool invocation as an assistant
// message with the same bracketed surface Claude tool_use blocks
// get, so transcripts read uniformly across grammars.
func (b *codexSessionBuilder) handleFunctionCall(
	payload gjson.Result, tsStr string,
) {
	name := payload.Get("name").Str
	if name == "" {
		return
	}

	b.messages = append(b.messages, ParsedMessage{
		MsgID:     makeMsgID(tsStr, len(b.messages)),
		Role:      RoleAssistant,
		Content:   formatCodexToolCall(name, codexCallArgs(payload)),
		Timestamp: tsStr,
	})
}

// codexCallArgs decodes a function call's arguments, which arrive
// either as a JSON object or as a JSON-encoded string.
func codexCallArgs(payload gjson.Result) gjson.Result {
	args := payload.Get("arguments")
	if args.Type == gjson.String && gjson.Valid(args.Str) {
		return gjson.Parse(args.Str)
	}
	return args
}

func formatCodexToolCall(name string, args gjson.Result) string {
	switch name {
	case "shell", "shell_command", "exec_command", "local_shell":
		if cmd := codexShellCommand(args); cmd != "" {
			return "[Bash]\n$ " + cmd
		}
	case "apply_patch":
		if path := patchTargetFile(args.Get("input").Str); path != "" {
			return fmt.Sprintf("[Edit: %s]", path)
		}
	}
	return fmt.Sprintf("[Tool: %s]", name)
}

// codexShellCommand extracts the command from a shell call's
// arguments. Older rollouts use a "cmd" string, newer ones a
// "command" argv array.
func codexShellCommand(args gjson.Result) string {
	if v := args.Get("command"); v.IsArray() {
		var words []string
		for _, w := range v.Array() {
			words = append(words, w.Str)
		}
		if isShellWrapper(words) {
			return words[2]
		}
		return strings.Join(words, " ")
	}
	for _, key := range []string{"command", "cmd"} {
		if v := args.Get(key); v.Type == gjson.String && v.Str != "" {
			return unwrapShellString(v.Str)
		}
	}
	return ""
}

// unwrapShellString surfaces the inner command of a `bash -lc "..."`
// wrapper, leaving anything else untouched. Tokenizing follows shell
// quoting rules so a quoted inner command stays one word.
func unwrapShellString(cmd string) string {
	words, err := shlex.Split(cmd)
	if err != nil || !isShellWrapper(words) {
		return cmd
	}
	return words[2]
}

// isShellWrapper matches the `bash -lc <script>` invocation Codex
// wraps composite commands in.
func isShellWrapper(words []string) bool {
	if len(words) != 3 {
		return false
	}
	switch filepath.Base(words[0]) {
	case "bash", "sh", "zsh":
	default:
		return false
	}
	return words[1] == "-c" || words[1] == "-lc"
}

// patchTargetFile pulls the first file path named in an apply_patch
// envelope.
func patchTargetFile(patch string) string {
	for _, line := range strings.Split(patch, "\n") {
		for _, marker := range []string{
			"*** Update File: ", "*** Add File: ", "*** Delete File: ",
		} {
			if rest, ok := strings.CutPrefix(line, marker); ok {
				return strings.TrimSpace(rest)
			}
		}
	}
	return ""
}

// extractCodexContent joins all non-empty text blocks from a Codex
// response item's content array.
func extractCodexContent(payload gjson.Result) string {
	var texts []string
	payload.Get("content").ForEach(
		func(_, block gjson.Result) bool {
			switch block.Get("type").Str {
			case "input_text", "output_text", "text":
				if t := block.Get("text").Str; t != "" {
					texts = append(texts, t)
				}
			}
			return true
		},
	)
	return strings.Join(texts, "\n")
}

// isCodexSystemMessage reports whether a user message is one of
// the stock instruction preambles Codex injects at session start.
func isCodexSystemMessage(content string) bool {
	return strings.HasPrefix(content, "# AGENTS.md") ||
		strings.HasPrefix(content, "<environment_context>") ||
		strings.HasPrefix(content, "<INSTRUCTIONS>")
}

// ParseCodexSession parses a Codex JSONL session file. Returns nil
// session if the session is non-interactive and includeExec is
// false. This filter is content-based: it comes from the parsed
// session_meta originator, never from the filename.
func ParseCodexSession(
	path, machine string, includeExec bool,
) (*ParsedSession, []ParsedMessage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(
		make([]byte, 0, initialScanBufSize), maxScanTokenSize,
	)

	b := newCodexSessionBuilder(includeExec)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !gjson.Valid(line) {
			continue
		}
		if b.processLine(line) {
			return nil, nil, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nil,
			fmt.Errorf("scanning codex %s: %w", path, err)
	}

	sessionID := b.sessionID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(
			filepath.Base(path), ".jsonl",
		)
	}
	sessionID = CodexIDPrefix + sessionID

	sess := &ParsedSession{
		ID:           sessionID,
		Project:      b.project,
		Machine:      machine,
		Agent:        AgentCodex,
		FirstMessage: b.firstMessage,
		StartedAt:    b.startedAt,
		EndedAt:      b.endedAt,
		MessageCount: len(b.messages),
		File: FileInfo{
			Path:  path,
			Size:  info.Size(),
			Mtime: info.ModTime().UnixNano(),
		},
	}

	return sess, b.messages, nil
}
