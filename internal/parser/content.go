package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// maxFirstMessageLen caps the first_message summary stored on a
// session.
const maxFirstMessageLen = 300

// ExtractTextContent renders a message content value to display
// text. Plain strings pass through unchanged; block lists are
// rendered one block per line: text blocks verbatim, thinking
// blocks under a [Thinking] header, tool_use blocks through the
// per-tool formatter. Anything else renders empty.
func ExtractTextContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		return ""
	}

	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if !block.IsObject() {
			return true
		}
		switch block.Get("type").Str {
		case "text":
			parts = append(parts, block.Get("text").Str)
		case "thinking":
			if t := block.Get("thinking").Str; t != "" {
				parts = append(parts, "[Thinking]\n"+t)
			}
		case "tool_use":
			parts = append(parts, formatToolUse(block))
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// formatToolUse renders a tool_use block as a short bracketed
// summary. Each known tool name decodes its own input fields;
// unknown names fall through to the default, which just names
// the tool.
func formatToolUse(block gjson.Result) string {
	name := "unknown"
	if v := block.Get("name"); v.Exists() {
		name = v.Str
	}
	input := block.Get("input")

	switch name {
	case "AskUserQuestion":
		return formatQuestionTool(name, input)
	case "TodoWrite":
		return formatTodoTool(input)
	case "EnterPlanMode":
		return "[Entering Plan Mode]"
	case "ExitPlanMode":
		return "[Exiting Plan Mode]"
	case "Read":
		return fmt.Sprintf("[Read: %s]", argOr(input, "file_path", "unknown"))
	case "Glob":
		return fmt.Sprintf(
			"[Glob: %s in %s]",
			input.Get("pattern").Str, argOr(input, "path", "."),
		)
	case "Grep":
		return fmt.Sprintf("[Grep: %s]", input.Get("pattern").Str)
	case "Edit":
		return fmt.Sprintf("[Edit: %s]", argOr(input, "file_path", "unknown"))
	case "Write":
		return fmt.Sprintf("[Write: %s]", argOr(input, "file_path", "unknown"))
	case "Bash":
		return formatBashTool(input)
	case "Task":
		return fmt.Sprintf(
			"[Task: %s (%s)]",
			input.Get("description").Str,
			input.Get("subagent_type").Str,
		)
	}
	return fmt.Sprintf("[Tool: %s]", name)
}

func formatQuestionTool(name string, input gjson.Result) string {
	lines := []string{fmt.Sprintf("[Question: %s]", name)}
	input.Get("questions").ForEach(func(_, q gjson.Result) bool {
		lines = append(lines, "  "+q.Get("question").Str)
		q.Get("options").ForEach(func(_, opt gjson.Result) bool {
			lines = append(lines, fmt.Sprintf(
				"    - %s: %s",
				opt.Get("label").Str, opt.Get("description").Str,
			))
			return true
		})
		return true
	})
	return strings.Join(lines, "\n")
}

func formatTodoTool(input gjson.Result) string {
	lines := []string{"[Todo List]"}
	input.Get("todos").ForEach(func(_, todo gjson.Result) bool {
		var icon string
		switch todo.Get("status").Str {
		case "completed":
			icon = "✓"
		case "in_progress":
			icon = "→"
		default:
			icon = "○"
		}
		lines = append(lines, fmt.Sprintf(
			"  %s %s", icon, todo.Get("content").Str,
		))
		return true
	})
	return strings.Join(lines, "\n")
}

func formatBashTool(input gjson.Result) string {
	cmd := input.Get("command").Str
	if desc := input.Get("description").Str; desc != "" {
		return fmt.Sprintf("[Bash: %s]\n$ %s", desc, cmd)
	}
	return "[Bash]\n$ " + cmd
}

// argOr returns the string value at key, or fallback when the key
// is absent entirely.
func argOr(input gjson.Result, key, fallback string) string {
	v := input.Get(key)
	if !v.Exists() {
		return fallback
	}
	return v.Str
}

var msgIDReplacer = strings.NewReplacer(":", "-", ".", "-")

// makeMsgID derives a message ID from the raw timestamp string,
// falling back to the running count of kept messages when the
// event carried no timestamp.
func makeMsgID(ts string, kept int) string {
	if ts == "" {
		return fmt.Sprintf("msg-%d", kept)
	}
	return "msg-" + msgIDReplacer.Replace(ts)
}

// summarizeFirstMessage builds the session summary from the first
// kept user message: at most 300 characters, newlines collapsed
// to spaces, a trailing ellipsis marking truncation. The limit
// counts runes, not bytes, so multi-byte text is never cut mid-rune.
func summarizeFirstMessage(content string) string {
	s := content
	truncated := false
	if utf8.RuneCountInString(s) > maxFirstMessageLen {
		s = string([]rune(s)[:maxFirstMessageLen])
		truncated = true
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if truncated {
		s += "..."
	}
	return s
}
