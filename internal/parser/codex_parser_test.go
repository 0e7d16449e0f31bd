package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsync/agentsync/internal/testjsonl"
)

func runCodexParserTest(t *testing.T, fileName, content string, includeExec bool) (*ParsedSession, []ParsedMessage) {
	t.Helper()
	if fileName == "" {
		fileName = "test.jsonl"
	}
	path := createTestFile(t, fileName, content)
	sess, msgs, err := ParseCodexSession(path, "local", includeExec)
	require.NoError(t, err)
	return sess, msgs
}

func TestParseCodexSession_Basic(t *testing.T) {
	content := loadFixture(t, "codex/standard_session.jsonl")
	sess, msgs := runCodexParserTest(t, "test.jsonl", content, false)

	require.NotNil(t, sess)
	assertSessionMeta(t, sess, "codex:abc-123", "my-api", AgentCodex)
	assert.Equal(t, 3, len(msgs))
	assert.Equal(t, 3, sess.MessageCount)
	assert.Equal(t, "Add a health endpoint", sess.FirstMessage)

	assertMessage(t, msgs[0], RoleUser, "health endpoint")
	assertMessage(t, msgs[1], RoleAssistant, "healthz")
	assertMessage(t, msgs[2], RoleAssistant, "[Bash]\n$ go test ./...")
	assert.Equal(t, "msg-2024-03-01T09-00-05Z", msgs[0].MsgID)
}

func TestParseCodexSession_SessionBounds(t *testing.T) {
	content := loadFixture(t, "codex/standard_session.jsonl")
	sess, _ := runCodexParserTest(t, "test.jsonl", content, false)

	require.NotNil(t, sess)
	// The trailing event_msg line contributes no message but its
	// timestamp still extends the session window.
	assertTimestamp(t, sess.StartedAt,
		time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	assertTimestamp(t, sess.EndedAt,
		time.Date(2024, 3, 1, 9, 0, 25, 0, time.UTC))
}

func TestParseCodexSession_ExecOriginator(t *testing.T) {
	execContent := testjsonl.JoinJSONL(
		testjsonl.CodexSessionMetaJSON("abc", "/tmp", "codex_exec", tsEarly),
		testjsonl.CodexMsgJSON("user", "test", tsEarlyS1),
	)

	t.Run("skips exec originator", func(t *testing.T) {
		sess, msgs := runCodexParserTest(t, "test.jsonl", execContent, false)
		assert.Nil(t, sess)
		assert.Empty(t, msgs)
	})

	t.Run("includes exec when requested", func(t *testing.T) {
		sess, msgs := runCodexParserTest(t, "test.jsonl", execContent, true)
		require.NotNil(t, sess)
		assert.Equal(t, "codex:abc", sess.ID)
		assert.Equal(t, 1, len(msgs))
	})
}

func TestParseCodexSession_FunctionCalls(t *testing.T) {
	parse := func(t *testing.T, line string) []ParsedMessage {
		t.Helper()
		_, msgs := runCodexParserTest(
			t, "test.jsonl", testjsonl.JoinJSONL(line), false,
		)
		return msgs
	}

	t.Run("argv array unwraps bash -lc wrapper", func(t *testing.T) {
		msgs := parse(t, testjsonl.CodexFunctionCallJSON(
			"shell",
			`{"command":["bash","-lc","ls -la | head"]}`,
			tsEarly,
		))
		require.Len(t, msgs, 1)
		assert.Equal(t, RoleAssistant, msgs[0].Role)
		assert.Equal(t, "[Bash]\n$ ls -la | head", msgs[0].Content)
	})

	t.Run("plain argv array joined", func(t *testing.T) {
		msgs := parse(t, testjsonl.CodexFunctionCallJSON(
			"shell", `{"command":["git","status"]}`, tsEarly,
		))
		require.Len(t, msgs, 1)
		assert.Equal(t, "[Bash]\n$ git status", msgs[0].Content)
	})

	t.Run("cmd string with quoted wrapper", func(t *testing.T) {
		msgs := parse(t, testjsonl.CodexFunctionCallJSON(
			"exec_command",
			`{"cmd":"sh -c 'grep -r TODO .'"}`,
			tsEarly,
		))
		require.Len(t, msgs, 1)
		assert.Equal(t, "[Bash]\n$ grep -r TODO .", msgs[0].Content)
	})

	t.Run("apply_patch names the target file", func(t *testing.T) {
		msgs := parse(t, testjsonl.CodexFunctionCallJSON(
			"apply_patch",
			`{"input":"*** Begin Patch\n*** Update File: cmd/main.go\n@@\n*** End Patch"}`,
			tsEarly,
		))
		require.Len(t, msgs, 1)
		assert.Equal(t, "[Edit: cmd/main.go]", msgs[0].Content)
	})

	t.Run("unknown tool falls back to its name", func(t *testing.T) {
		msgs := parse(t, testjsonl.CodexFunctionCallJSON(
			"web_search", `{"query":"fts5 syntax"}`, tsEarly,
		))
		require.Len(t, msgs, 1)
		assert.Equal(t, "[Tool: web_search]", msgs[0].Content)
	})

	t.Run("nameless call dropped", func(t *testing.T) {
		msgs := parse(t,
			`{"type":"response_item","timestamp":"`+tsEarly+
				`","payload":{"type":"function_call","arguments":"{}"}}`,
		)
		assert.Empty(t, msgs)
	})

	t.Run("positional msg id without timestamp", func(t *testing.T) {
		msgs := parse(t, testjsonl.CodexFunctionCallJSON(
			"shell", `{"command":["true"]}`, "",
		))
		require.Len(t, msgs, 1)
		assert.Equal(t, "msg-0", msgs[0].MsgID)
	})
}

func TestParseCodexSession_EdgeCases(t *testing.T) {
	t.Run("skips system messages", func(t *testing.T) {
		content := testjsonl.JoinJSONL(
			testjsonl.CodexSessionMetaJSON("abc", "/tmp", "user", tsEarly),
			testjsonl.CodexMsgJSON("user", "# AGENTS.md\nsome instructions", tsEarlyS1),
			testjsonl.CodexMsgJSON("user", "<environment_context>stuff</environment_context>", "2024-01-01T10:00:02Z"),
			testjsonl.CodexMsgJSON("user", "<INSTRUCTIONS>ignore</INSTRUCTIONS>", "2024-01-01T10:00:03Z"),
			testjsonl.CodexMsgJSON("user", "Actual user message", "2024-01-01T10:00:04Z"),
		)
		sess, msgs := runCodexParserTest(t, "test.jsonl", content, false)
		require.NotNil(t, sess)
		assert.Equal(t, 1, len(msgs))
		assert.Equal(t, "Actual user message", msgs[0].Content)
		assert.Equal(t, "Actual user message", sess.FirstMessage)
	})

	t.Run("assistant with marker prefix not filtered", func(t *testing.T) {
		content := testjsonl.JoinJSONL(
			testjsonl.CodexMsgJSON("assistant", "# AGENTS.md describes the layout", tsEarly),
		)
		_, msgs := runCodexParserTest(t, "test.jsonl", content, false)
		assert.Equal(t, 1, len(msgs))
	})

	t.Run("fallback ID from filename", func(t *testing.T) {
		content := testjsonl.CodexMsgJSON("user", "hello", tsEarlyS1)
		sess, _ := runCodexParserTest(t, "test.jsonl", content, false)
		require.NotNil(t, sess)
		assert.Equal(t, "codex:test", sess.ID)
	})

	t.Run("project unknown without session_meta", func(t *testing.T) {
		content := testjsonl.CodexMsgJSON("user", "hello", tsEarlyS1)
		sess, _ := runCodexParserTest(t, "test.jsonl", content, false)
		require.NotNil(t, sess)
		assert.Equal(t, "unknown", sess.Project)
	})

	t.Run("project unknown for empty cwd", func(t *testing.T) {
		content := testjsonl.JoinJSONL(
			testjsonl.CodexSessionMetaJSON("abc", "", "user", tsEarly),
		)
		sess, _ := runCodexParserTest(t, "test.jsonl", content, false)
		require.NotNil(t, sess)
		assert.Equal(t, "unknown", sess.Project)
	})

	t.Run("other roles ignored", func(t *testing.T) {
		content := testjsonl.JoinJSONL(
			testjsonl.CodexMsgJSON("system", "sys prompt", tsEarly),
			testjsonl.CodexMsgJSON("user", "hello", tsEarlyS1),
		)
		_, msgs := runCodexParserTest(t, "test.jsonl", content, false)
		assert.Equal(t, 1, len(msgs))
	})

	t.Run("empty content blocks yield no message", func(t *testing.T) {
		content := testjsonl.JoinJSONL(
			`{"type":"response_item","timestamp":"`+tsEarly+`","payload":{"role":"user","content":[{"type":"input_text","text":""}]}}`,
			testjsonl.CodexMsgJSON("user", "real", tsEarlyS1),
		)
		sess, msgs := runCodexParserTest(t, "test.jsonl", content, false)
		require.NotNil(t, sess)
		assert.Equal(t, 1, len(msgs))
		assert.Equal(t, 1, sess.MessageCount)
	})

	t.Run("multiple blocks joined", func(t *testing.T) {
		content := testjsonl.JoinJSONL(
			`{"type":"response_item","timestamp":"` + tsEarly +
				`","payload":{"role":"assistant","content":[` +
				`{"type":"output_text","text":"part one"},` +
				`{"type":"text","text":"part two"}]}}`,
		)
		_, msgs := runCodexParserTest(t, "test.jsonl", content, false)
		require.Len(t, msgs, 1)
		assert.Equal(t, "part one\npart two", msgs[0].Content)
	})

	t.Run("malformed lines skipped", func(t *testing.T) {
		content := "garbage{{{\n" +
			testjsonl.CodexMsgJSON("user", "kept", tsEarly) + "\n"
		sess, msgs := runCodexParserTest(t, "test.jsonl", content, false)
		require.NotNil(t, sess)
		assert.Equal(t, 1, len(msgs))
	})
}
