package server

import (
	"fmt"
	"html"
	"html/template"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/agentsync/agentsync/internal/db"
)

// getSessionWithMessages fetches a session and its messages by ID,
// writing appropriate HTTP errors on failure. Returns false if the
// response has already been written.
func (s *Server) getSessionWithMessages(
	w http.ResponseWriter, r *http.Request,
) (*db.Session, []db.Message, bool) {
	id := r.PathValue("id")
	session, err := s.db.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, nil, false
	}

	msgs, err := s.db.GetMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	return session, msgs, true
}

func (s *Server) handleExportSession(
	w http.ResponseWriter, r *http.Request,
) {
	session, msgs, ok := s.getSessionWithMessages(w, r)
	if !ok {
		return
	}

	htmlContent := generateExportHTML(session, msgs)
	filename := exportFilename(session)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(
		"Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, filename),
	)
	_, _ = io.WriteString(w, htmlContent)
}

// exportFilename builds <project>-<yyyymmdd>.html, falling back to
// a session ID prefix for sessions without a start timestamp.
func exportFilename(session *db.Session) string {
	project := strings.NewReplacer(
		"/", "-", "\\", "-",
	).Replace(session.Project)

	suffix := formatDateShort(session.StartedAt)
	if suffix == "" {
		suffix = session.ID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
	}
	return sanitizeFilename(project + "-" + suffix + ".html")
}

type exportData struct {
	Project      string
	AgentClass   string
	Agent        string
	MessageCount int
	StartedAt    string
	Messages     []exportMessage
}

type exportMessage struct {
	RoleClass   string
	ExtraClass  string
	Role        string
	Timestamp   string
	ContentHTML template.HTML
}

var exportTmpl = template.Must(
	template.New("export").Parse(exportTemplateStr))

const exportTemplateStr = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Project}} - Agent Session</title>
<style>
:root {
  --bg: #0d1117;
  --surface: #161b22;
  --surface-hover: #21262d;
  --border: #30363d;
  --text: #e6edf3;
  --text-muted: #8b949e;
  --accent: #58a6ff;
  --accent-muted: #388bfd;
  --user-bg: #1c2128;
  --assistant-bg: #1a1f26;
  --warning: #d29922;
  --tool-bg: #1a2332;
  --thinking-bg: #1f1a24;
  --agent-accent: #9d7cd8;
}
* { box-sizing: border-box; margin: 0; padding: 0; }
body {
  font-family: 'SF Mono', Monaco, 'Cascadia Code', 'Consolas', monospace;
  background: var(--bg);
  color: var(--text);
  line-height: 1.5;
}
header {
  background: var(--surface);
  border-bottom: 1px solid var(--border);
  padding: 16px 24px;
  position: sticky; top: 0; z-index: 100;
}
.header-content {
  max-width: 900px; margin: 0 auto;
  display: flex; align-items: center;
  justify-content: space-between;
  flex-wrap: wrap; gap: 12px;
}
h1 { font-size: 1.1rem; font-weight: 600; }
.session-meta {
  font-size: 0.8rem; color: var(--text-muted);
  display: flex; gap: 12px; flex-wrap: wrap;
}
.session-meta .agent-name { color: #d4a574; }
.session-meta .agent-name.codex { color: #7dd3fc; }
.controls { display: flex; gap: 12px; align-items: center; }
.toggle-input {
  position: absolute; opacity: 0; pointer-events: none;
}
.toggle-label {
  display: inline-flex; align-items: center; gap: 6px;
  padding: 6px 12px;
  background: var(--surface-hover);
  border: 1px solid var(--border);
  border-radius: 6px;
  color: var(--text);
  cursor: pointer; font-size: 0.85rem;
  user-select: none;
}
.toggle-label:hover { background: var(--border); }
#thinking-toggle:checked ~ header label[for="thinking-toggle"],
#sort-toggle:checked ~ header label[for="sort-toggle"] {
  background: var(--accent-muted);
  border-color: var(--accent);
}
main { max-width: 900px; margin: 0 auto; padding: 24px; }
.messages { display: flex; flex-direction: column; gap: 16px; }
.message {
  padding: 16px;
  border-radius: 8px;
  border: 1px solid var(--border);
}
.message.user {
  background: var(--user-bg);
  border-left: 3px solid var(--accent);
}
.message.assistant {
  background: var(--assistant-bg);
  border-left: 3px solid var(--agent-accent);
}
.message-header {
  display: flex; justify-content: space-between;
  margin-bottom: 8px; font-size: 0.8rem;
}
.message-role {
  font-weight: 600; text-transform: uppercase;
  letter-spacing: 0.5px;
}
.message.user .message-role { color: var(--accent); }
.message.assistant .message-role { color: var(--agent-accent); }
.message-time { color: var(--text-muted); }
.message-content {
  white-space: pre-wrap; word-break: break-word;
  font-size: 0.9rem;
}
.message-content code {
  background: var(--bg);
  padding: 2px 6px; border-radius: 4px;
  font-family: inherit; font-size: 0.85em;
}
.message-content pre {
  background: var(--bg);
  padding: 12px; border-radius: 6px;
  overflow-x: auto; margin: 12px 0;
}
.message-content pre code { background: none; padding: 0; }
.thinking-block {
  background: var(--thinking-bg);
  border-left: 2px solid #8b5cf6;
  padding: 12px; margin: 8px 0; border-radius: 4px;
  font-style: italic; color: var(--text-muted);
  display: none;
}
.thinking-label {
  font-size: 0.75rem; font-weight: 600; color: #8b5cf6;
  text-transform: uppercase; letter-spacing: 0.5px;
  margin-bottom: 4px; font-style: normal;
}
.message.thinking-only { display: none; }
#thinking-toggle:checked ~ main .thinking-block { display: block; }
#thinking-toggle:checked ~ main .message.thinking-only { display: block; }
.tool-block {
  background: var(--tool-bg);
  border-left: 2px solid var(--warning);
  padding: 8px 12px; margin: 8px 0; border-radius: 4px;
  font-size: 0.85rem;
}
#sort-toggle:checked ~ main .messages {
  flex-direction: column-reverse;
}
footer {
  max-width: 900px; margin: 40px auto; padding: 16px 24px;
  border-top: 1px solid var(--border);
  font-size: 0.8rem; color: var(--text-muted);
  text-align: center;
}
footer a { color: var(--accent); text-decoration: none; }
footer a:hover { text-decoration: underline; }
</style>
</head>
<body>
<input type="checkbox" id="thinking-toggle" class="toggle-input">
<input type="checkbox" id="sort-toggle" class="toggle-input">
<header>
<div class="header-content">
<div>
  <h1>{{.Project}}</h1>
  <div class="session-meta">
    <span class="agent-name {{.AgentClass}}">{{.Agent}}</span>
    <span>{{.MessageCount}} messages</span>
    <span>{{.StartedAt}}</span>
  </div>
</div>
<div class="controls">
  <label for="thinking-toggle" class="toggle-label">Thinking</label>
  <label for="sort-toggle" class="toggle-label">Newest first</label>
</div>
</div>
</header>
<main><div class="messages">
{{- range .Messages}}
<div class="message {{.RoleClass}}{{.ExtraClass}}"><div class="message-header"><span class="message-role">{{.Role}}</span><span class="message-time">{{.Timestamp}}</span></div><div class="message-content">{{.ContentHTML}}</div></div>
{{- end}}
</div></main>
<footer>Exported from <a href="https://github.com/agentsync/agentsync">agentsync</a></footer>
</body></html>`

func generateExportHTML(
	session *db.Session, msgs []db.Message,
) string {
	agentClass := "claude"
	agentDisplay := "Claude"
	if session.Agent == "codex" {
		agentClass = "codex"
		agentDisplay = "Codex"
	}

	startedAt := ""
	if session.StartedAt != nil {
		startedAt = formatTimestamp(*session.StartedAt)
	}

	data := exportData{
		Project:      session.Project,
		AgentClass:   agentClass,
		Agent:        agentDisplay,
		MessageCount: session.MessageCount,
		StartedAt:    startedAt,
		Messages:     make([]exportMessage, len(msgs)),
	}

	for i, m := range msgs {
		roleClass := "unknown"
		if m.Role == "user" || m.Role == "assistant" {
			roleClass = m.Role
		}
		extraClass := ""
		if m.Role == "assistant" && isThinkingOnly(m.Content) {
			extraClass = " thinking-only"
		}

		data.Messages[i] = exportMessage{
			RoleClass:   roleClass,
			ExtraClass:  extraClass,
			Role:        m.Role,
			Timestamp:   formatTimestamp(m.Timestamp),
			ContentHTML: template.HTML(formatContentForExport(m.Content)),
		}
	}

	var b strings.Builder
	if err := exportTmpl.Execute(&b, data); err != nil {
		return fmt.Sprintf("template error: %s", err)
	}
	return b.String()
}

// Block patterns capture their terminator (newline before the next
// bracketed block, or end of text) so it can be re-emitted after the
// wrapping div. RE2 has no lookahead, so the terminator is consumed
// by the match and must be put back.
var (
	codeBlockRe  = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	thinkingRe   = regexp.MustCompile(
		`(?s)\[Thinking\]\n?(.*?)(\n\n\[|\n\[|$)`)
	toolBlockRe = regexp.MustCompile(
		`(?s)\[(Tool|Read|Write|Edit|Bash|Glob|Grep|Task|` +
			`Question|Todo List|Entering Plan Mode|` +
			`Exiting Plan Mode)([^\]]*)\](.*?)(\n\[|\n\n|<div|$)`)
)

func formatContentForExport(text string) string {
	s := html.EscapeString(text)
	s = codeBlockRe.ReplaceAllString(s, "<pre><code>$2</code></pre>")
	s = inlineCodeRe.ReplaceAllString(s, "<code>$1</code>")
	s = thinkingRe.ReplaceAllString(s,
		`<div class="thinking-block">`+
			`<div class="thinking-label">Thinking</div>$1</div>$2`)
	s = toolBlockRe.ReplaceAllString(s,
		`<div class="tool-block">[$1$2]$3</div>$4`)
	return s
}

// isThinkingOnly reports whether the content has nothing left once
// its thinking blocks are removed. Such messages are hidden unless
// the thinking toggle is on.
func isThinkingOnly(content string) bool {
	if content == "" {
		return false
	}
	without := thinkingRe.ReplaceAllString(content, "")
	return strings.TrimSpace(without) == ""
}

// parseTimestamp tries RFC3339Nano then RFC3339.
func parseTimestamp(ts string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339, ts)
	}
	return t, err == nil
}

func formatTimestamp(ts string) string {
	if ts == "" {
		return ""
	}
	t, ok := parseTimestamp(ts)
	if !ok {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatDateShort renders a compact date for filenames, or "" when
// the timestamp is absent or unparseable.
func formatDateShort(ts *string) string {
	if ts == nil || *ts == "" {
		return ""
	}
	t, ok := parseTimestamp(*ts)
	if !ok {
		return ""
	}
	return t.Format("20060102")
}

func sanitizeFilename(name string) string {
	re := regexp.MustCompile(`[^\w.\-]`)
	return re.ReplaceAllString(name, "_")
}
