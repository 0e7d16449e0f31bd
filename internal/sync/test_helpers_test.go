package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/agentsync/agentsync/internal/db"
	"github.com/agentsync/agentsync/internal/testjsonl"
)

// testEnv bundles an engine with the temp source trees and managed
// storage directories it operates on.
type testEnv struct {
	engine      *Engine
	db          *db.DB
	claudeDir   string
	codexDir    string
	sessionsDir string
	uploadsDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	database, err := db.Open(filepath.Join(root, "agentsync.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	env := &testEnv{
		db:          database,
		claudeDir:   filepath.Join(root, "claude", "projects"),
		codexDir:    filepath.Join(root, "codex", "sessions"),
		sessionsDir: filepath.Join(root, "data", "sessions"),
		uploadsDir:  filepath.Join(root, "data", "uploads"),
	}
	env.engine = NewEngine(database, Config{
		ClaudeDir:   env.claudeDir,
		CodexDir:    env.codexDir,
		SessionsDir: env.sessionsDir,
		UploadsDir:  env.uploadsDir,
	})
	return env
}

// writeClaudeSession creates <sessionID>.jsonl under the encoded
// project directory and returns its path.
func (env *testEnv) writeClaudeSession(t *testing.T, projectDir, sessionID, content string) string {
	t.Helper()
	dir := filepath.Join(env.claudeDir, projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating project dir: %v", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing session file: %v", err)
	}
	return path
}

// writeCodexSession creates a rollout file under the year/month/day
// directory and returns its path.
func (env *testEnv) writeCodexSession(t *testing.T, year, month, day, name, content string) string {
	t.Helper()
	dir := filepath.Join(env.codexDir, year, month, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating day dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing rollout file: %v", err)
	}
	return path
}

// claudeTranscript builds a minimal two-message transcript whose
// working directory determines the project name.
func claudeTranscript(cwd string) string {
	return testjsonl.NewSessionBuilder().
		AddClaudeUser("2024-06-01T10:00:00Z", "how do I sort a slice", cwd).
		AddClaudeAssistant("2024-06-01T10:00:05Z", "use sort.Slice with a less func").
		String()
}

// codexTranscript builds a rollout with a session_meta line followed
// by one user and one assistant message.
func codexTranscript(id, cwd, originator string) string {
	return testjsonl.NewSessionBuilder().
		AddCodexMeta("2024-06-02T09:00:00Z", id, cwd, originator).
		AddCodexMessage("2024-06-02T09:00:01Z", "user", "summarize this repo").
		AddCodexMessage("2024-06-02T09:00:02Z", "assistant", "it syncs agent transcripts").
		String()
}

// touch backdates a file's mtime so resync tests can detect whether a
// copy preserved it.
func touch(t *testing.T, path string, when time.Time) {
	t.Helper()
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("setting mtime: %v", err)
	}
}

// collectEvents returns an EventFunc that appends to the given slice.
func collectEvents(events *[]Event) EventFunc {
	return func(ev Event) {
		*events = append(*events, ev)
	}
}

// runSyncAndAssert runs a full sync pass and compares the resulting
// counters against want.
func (env *testEnv) runSyncAndAssert(t *testing.T, want SyncStats) SyncStats {
	t.Helper()
	stats, err := env.engine.SyncAll(nil)
	if err != nil {
		t.Fatalf("SyncAll() error: %v", err)
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("SyncAll() stats mismatch (-want +got):\n%s", diff)
	}
	return stats
}
