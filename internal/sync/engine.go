package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/agentsync/agentsync/internal/db"
	"github.com/agentsync/agentsync/internal/parser"
	"github.com/agentsync/agentsync/internal/timeutil"
)

// codexProjectLabel names the Codex tree in progress events. Codex
// sessions carry their real project inside the file, so the tree is
// reported as a single unit during discovery.
const codexProjectLabel = "codex"

// Config holds the source and destination paths for the sync engine.
type Config struct {
	ClaudeDir   string // Claude projects root, e.g. ~/.claude/projects
	CodexDir    string // Codex sessions root, e.g. ~/.codex/sessions
	SessionsDir string // managed copies of synced session files
	UploadsDir  string // session files received via upload
	Machine     string
	ProjectGlob string
	IncludeExec bool // index non-interactive codex runs during bulk sync
}

// Engine orchestrates session discovery, change detection, copying,
// and storage.
type Engine struct {
	db  *db.DB
	cfg Config

	syncMu gosync.Mutex // serializes full sync passes

	mu            gosync.RWMutex
	lastSync      time.Time
	lastSyncStats SyncStats
}

// NewEngine creates a sync engine.
func NewEngine(database *db.DB, cfg Config) *Engine {
	if cfg.Machine == "" {
		cfg.Machine = "local"
	}
	if cfg.ProjectGlob == "" {
		cfg.ProjectGlob = "*"
	}
	return &Engine{db: database, cfg: cfg}
}

// LastSync returns the time of the last completed sync.
func (e *Engine) LastSync() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastSyncStats returns statistics from the last sync.
func (e *Engine) LastSyncStats() SyncStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSyncStats
}

// StoreError wraps a database failure during session commit. Parse,
// stat, and copy failures are contained per session; a store failure
// means every later write would fail the same way, so it aborts the
// whole run.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return "storing session: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// SyncAll discovers and syncs every session from both source trees.
// Progress events are delivered to onEvent when non-nil. The returned
// error is non-nil only for store failures; per-session failures are
// logged, counted in the stats, and do not interrupt the run.
//
// Concurrent full passes serialize against each other. Single-session
// syncs do not take this lock.
func (e *Engine) SyncAll(onEvent EventFunc) (SyncStats, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	return e.syncAllLocked(onEvent)
}

func (e *Engine) syncAllLocked(
	onEvent EventFunc,
) (SyncStats, error) {
	t0 := time.Now()

	projects := DiscoverClaudeProjects(
		e.cfg.ClaudeDir, e.cfg.ProjectGlob,
	)
	codexFiles := DiscoverCodexSessions(e.cfg.CodexDir)

	total := len(projects)
	if len(codexFiles) > 0 {
		total++
	}
	emit(onEvent, Event{Kind: EventStart, Projects: total})

	var stats SyncStats
	for _, p := range projects {
		if err := e.syncClaudeProject(p, &stats, onEvent); err != nil {
			return stats, err
		}
	}
	if len(codexFiles) > 0 {
		if err := e.syncCodexFiles(codexFiles, &stats, onEvent); err != nil {
			return stats, err
		}
	}

	emit(onEvent, Event{Kind: EventDone})
	log.Printf(
		"sync: %d session(s): %d synced, %d skipped, %d failed in %s",
		stats.TotalSessions, stats.Synced, stats.Skipped, stats.Failed,
		time.Since(t0).Round(time.Millisecond),
	)

	e.mu.Lock()
	e.lastSync = time.Now()
	e.lastSyncStats = stats
	e.mu.Unlock()
	return stats, nil
}

func (e *Engine) syncClaudeProject(
	p Project, stats *SyncStats, onEvent EventFunc,
) error {
	emit(onEvent, Event{
		Kind:     EventProjectStart,
		Project:  p.DirName,
		Sessions: len(p.Sessions),
	})

	project := e.claudeProjectName(p)

	for _, f := range p.Sessions {
		sessionID := strings.TrimSuffix(
			filepath.Base(f.Path), ".jsonl",
		)
		stats.TotalSessions++
		emit(onEvent, Event{
			Kind: EventSessionStart, Session: sessionID,
		})

		res, err := e.SyncClaudeFile(f.Path, project, false)
		messages, err := e.recordResult(stats, f.Path, res, err)
		if err != nil {
			return err
		}
		emit(onEvent, Event{
			Kind:     EventSessionDone,
			Session:  sessionID,
			Messages: messages,
		})
	}

	emit(onEvent, Event{Kind: EventProjectDone, Project: p.DirName})
	return nil
}

func (e *Engine) syncCodexFiles(
	files []SessionFile, stats *SyncStats, onEvent EventFunc,
) error {
	emit(onEvent, Event{
		Kind:     EventProjectStart,
		Project:  codexProjectLabel,
		Sessions: len(files),
	})

	for _, f := range files {
		stem := strings.TrimSuffix(filepath.Base(f.Path), ".jsonl")
		stats.TotalSessions++
		emit(onEvent, Event{Kind: EventSessionStart, Session: stem})

		res, err := e.SyncCodexFile(f.Path, false)
		messages, err := e.recordResult(stats, f.Path, res, err)
		if err != nil {
			return err
		}
		emit(onEvent, Event{
			Kind:     EventSessionDone,
			Session:  stem,
			Messages: messages,
		})
	}

	emit(onEvent, Event{
		Kind: EventProjectDone, Project: codexProjectLabel,
	})
	return nil
}

// recordResult folds one per-session outcome into stats and returns
// the indexed message count. Store failures propagate; everything
// else is contained here.
func (e *Engine) recordResult(
	stats *SyncStats, path string, res *SyncResult, err error,
) (int, error) {
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			return 0, err
		}
		log.Printf("sync: %s: %v", path, err)
		stats.RecordFailed()
		return 0, nil
	}
	if res == nil {
		// Non-interactive codex run, or not a session file.
		return 0, nil
	}
	if res.Skipped {
		stats.RecordSkip()
		return 0, nil
	}
	stats.RecordSynced()
	return res.Messages, nil
}

// claudeProjectName derives the display name for a project
// directory. The newest session's working directory wins since it
// reflects the current checkout path; the encoded directory name is
// the fallback.
func (e *Engine) claudeProjectName(p Project) string {
	if len(p.Sessions) > 0 {
		if cwd := parser.ExtractWorkingDirectory(
			p.Sessions[0].Path,
		); cwd != "" {
			if name := parser.DeriveDisplayName(cwd); name != "" {
				return name
			}
		}
	}
	return parser.DeriveDisplayName(p.DirName)
}

// SyncClaudeFile syncs one Claude session file. The source is copied
// into the managed sessions directory and the copy is what gets
// parsed, so the indexed transcript always matches a file this
// process owns. Returns nil for files that are not session
// transcripts (agent- sidecars).
func (e *Engine) SyncClaudeFile(
	path, project string, force bool,
) (*SyncResult, error) {
	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if strings.HasPrefix(sessionID, "agent-") {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	hashOf := fileHasher(path)

	if !force && e.shouldSkip(sessionID, info.Size(), hashOf) {
		return &SyncResult{
			SessionID: sessionID, Project: project, Skipped: true,
		}, nil
	}

	copyPath, err := e.copyToManaged(path, project)
	if err != nil {
		return nil, err
	}

	sess, msgs, err := parser.ParseClaudeSession(
		copyPath, project, e.cfg.Machine,
	)
	if err != nil {
		return nil, err
	}

	if err := e.stampSourceFile(&sess, path, info, hashOf); err != nil {
		return nil, err
	}
	if err := e.commitSession(sess, msgs); err != nil {
		return nil, err
	}
	return &SyncResult{
		SessionID: sess.ID,
		Project:   project,
		Messages:  len(msgs),
	}, nil
}

// SyncCodexFile syncs one Codex rollout file. The source is parsed
// before anything else because both the session ID and the
// interactivity filter live inside the file; the fingerprint check
// then runs against the parsed ID. Returns nil for non-interactive
// sessions unless the engine is configured to include them.
func (e *Engine) SyncCodexFile(
	path string, force bool,
) (*SyncResult, error) {
	return e.syncCodexFile(path, force, e.cfg.IncludeExec)
}

func (e *Engine) syncCodexFile(
	path string, force, includeExec bool,
) (*SyncResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	src, _, err := parser.ParseCodexSession(
		path, e.cfg.Machine, includeExec,
	)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, nil
	}
	hashOf := fileHasher(path)

	if !force && e.shouldSkip(src.ID, info.Size(), hashOf) {
		return &SyncResult{
			SessionID: src.ID, Project: src.Project, Skipped: true,
		}, nil
	}

	copyPath, err := e.copyToManaged(path, src.Project)
	if err != nil {
		return nil, err
	}

	sess, msgs, err := parser.ParseCodexSession(
		copyPath, e.cfg.Machine, includeExec,
	)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	if err := e.stampSourceFile(sess, path, info, hashOf); err != nil {
		return nil, err
	}
	if err := e.commitSession(*sess, msgs); err != nil {
		return nil, err
	}
	return &SyncResult{
		SessionID: sess.ID,
		Project:   sess.Project,
		Messages:  len(msgs),
	}, nil
}

// SyncSingleSession re-syncs one session, resolving its live source
// file from the ID. Codex sessions are parsed with exec runs
// included: an explicit request overrides the bulk filter. Returns
// nil when no source file exists for the ID.
//
// Single-session syncs run concurrently with a full pass; the
// per-session store transaction is the only serialization, so a
// watch poller never waits behind a bulk sync.
func (e *Engine) SyncSingleSession(
	sessionID string, force bool,
) (*SyncResult, error) {
	if strings.HasPrefix(sessionID, parser.CodexIDPrefix) {
		path := FindCodexSourceFile(
			e.cfg.CodexDir,
			strings.TrimPrefix(sessionID, parser.CodexIDPrefix),
		)
		if path == "" {
			return nil, nil
		}
		return e.syncCodexFile(path, force, true)
	}

	path := FindClaudeSourceFile(e.cfg.ClaudeDir, sessionID)
	if path == "" {
		return nil, nil
	}
	project := e.projectForClaudePath(path, sessionID)
	return e.SyncClaudeFile(path, project, force)
}

// ResolveSourceFile locates the live source file for a session ID,
// or "" when none exists.
func (e *Engine) ResolveSourceFile(sessionID string) string {
	if strings.HasPrefix(sessionID, parser.CodexIDPrefix) {
		return FindCodexSourceFile(
			e.cfg.CodexDir,
			strings.TrimPrefix(sessionID, parser.CodexIDPrefix),
		)
	}
	return FindClaudeSourceFile(e.cfg.ClaudeDir, sessionID)
}

// projectForClaudePath picks the project label for a single-file
// sync: the stored label when the session is already indexed, else a
// fresh derivation from the file and its directory.
func (e *Engine) projectForClaudePath(
	path, sessionID string,
) string {
	sess, err := e.db.GetSession(context.Background(), sessionID)
	if err == nil && sess != nil && sess.Project != "" {
		return sess.Project
	}
	if cwd := parser.ExtractWorkingDirectory(path); cwd != "" {
		if name := parser.DeriveDisplayName(cwd); name != "" {
			return name
		}
	}
	return parser.DeriveDisplayName(filepath.Base(filepath.Dir(path)))
}

// SyncPaths syncs only the given changed paths, ignoring any that do
// not look like session files under the configured roots. The file
// watcher uses this to avoid rescanning whole trees.
func (e *Engine) SyncPaths(paths []string) {
	synced := 0
	for _, p := range paths {
		res, err := e.syncOnePath(p)
		if err != nil {
			log.Printf("sync: %s: %v", p, err)
			continue
		}
		if res != nil && !res.Skipped {
			synced++
		}
	}
	if synced == 0 {
		return
	}

	e.mu.Lock()
	e.lastSync = time.Now()
	e.mu.Unlock()
	log.Printf("sync: %d file(s) updated", synced)
}

// syncOnePath classifies a path against the configured roots and
// dispatches to the matching per-file sync. Unrecognized paths
// return nil.
func (e *Engine) syncOnePath(path string) (*SyncResult, error) {
	sep := string(filepath.Separator)

	// Claude: <claudeDir>/<project>/<session>.jsonl
	if e.cfg.ClaudeDir != "" {
		if rel, ok := isUnder(e.cfg.ClaudeDir, path); ok {
			if !strings.HasSuffix(path, ".jsonl") {
				return nil, nil
			}
			parts := strings.Split(rel, sep)
			if len(parts) != 2 {
				return nil, nil
			}
			if !matchesGlob(e.cfg.ProjectGlob, parts[0]) {
				return nil, nil
			}
			stem := strings.TrimSuffix(
				filepath.Base(path), ".jsonl",
			)
			project := e.projectForClaudePath(path, stem)
			return e.SyncClaudeFile(path, project, false)
		}
	}

	// Codex: <codexDir>/<year>/<month>/<day>/<file>.jsonl
	if e.cfg.CodexDir != "" {
		if rel, ok := isUnder(e.cfg.CodexDir, path); ok {
			parts := strings.Split(rel, sep)
			if len(parts) != 4 {
				return nil, nil
			}
			if !isDigits(parts[0]) || !isDigits(parts[1]) ||
				!isDigits(parts[2]) {
				return nil, nil
			}
			if !strings.HasSuffix(parts[3], ".jsonl") {
				return nil, nil
			}
			return e.SyncCodexFile(path, false)
		}
	}

	return nil, nil
}

// UploadSession stores an uploaded Claude-format session file under
// uploads/<project> and indexes it. The project label is stored as
// given; callers validate it before it reaches the filesystem. No
// source fingerprint is recorded: an upload has no live source to
// compare against, so re-uploading the same session always
// re-indexes it.
func (e *Engine) UploadSession(
	data []byte, filename, project, machine string,
) (*SyncResult, error) {
	if !strings.HasSuffix(filename, ".jsonl") {
		return nil, fmt.Errorf(
			"unsupported upload %s: expected .jsonl", filename,
		)
	}

	dir := filepath.Join(e.cfg.UploadsDir, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing upload: %w", err)
	}

	sess, msgs, err := parser.ParseClaudeSession(
		dest, project, machine,
	)
	if err != nil {
		return nil, err
	}
	sess.File = parser.FileInfo{}

	if err := e.commitSession(sess, msgs); err != nil {
		return nil, err
	}
	return &SyncResult{
		SessionID: sess.ID,
		Project:   project,
		Messages:  len(msgs),
	}, nil
}

// fileHasher returns a memoized hash closure for path, so the skip
// check and the stored fingerprint share one read of the file.
func fileHasher(path string) func() (string, error) {
	var hash string
	return func() (string, error) {
		if hash != "" {
			return hash, nil
		}
		h, err := ComputeFileHash(path)
		if err != nil {
			return "", err
		}
		hash = h
		return hash, nil
	}
}

// shouldSkip reports whether the stored fingerprint for sessionID
// matches the source file. Size is compared first; hashOf runs only
// on a size match. A fingerprint lookup failure counts as changed,
// which at worst re-syncs one unchanged file.
func (e *Engine) shouldSkip(
	sessionID string, size int64, hashOf func() (string, error),
) bool {
	fp, err := e.db.GetFileFingerprint(sessionID)
	if err != nil || fp == nil {
		return false
	}
	if fp.Size != size {
		return false
	}
	h, err := hashOf()
	if err != nil {
		return false
	}
	return h == fp.Hash
}

// copyToManaged copies a source session file into the managed
// sessions directory, preserving its modification time.
func (e *Engine) copyToManaged(
	src, project string,
) (string, error) {
	dir := filepath.Join(
		e.cfg.SessionsDir, DeriveStorageKey(project),
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := CopyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// stampSourceFile records the source file's identity on the parsed
// session, replacing whatever the parser saw on the managed copy.
// The fingerprint always describes the source so the next sync
// compares like with like.
func (e *Engine) stampSourceFile(
	sess *parser.ParsedSession, path string,
	info os.FileInfo, hashOf func() (string, error),
) error {
	hash, err := hashOf()
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	sess.File = parser.FileInfo{
		Path:  path,
		Size:  info.Size(),
		Mtime: info.ModTime().UnixNano(),
		Hash:  hash,
	}
	return nil
}

// commitSession writes a parsed session and its transcript in one
// transaction.
func (e *Engine) commitSession(
	sess parser.ParsedSession, msgs []parser.ParsedMessage,
) error {
	err := e.db.StoreSession(
		toDBSession(sess), toDBMessages(sess.ID, msgs),
	)
	if err != nil {
		return &StoreError{Err: err}
	}
	return nil
}

// toDBSession converts a parsed session to its storage row.
func toDBSession(s parser.ParsedSession) db.Session {
	row := db.Session{
		ID:           s.ID,
		Project:      s.Project,
		Machine:      s.Machine,
		Agent:        string(s.Agent),
		MessageCount: s.MessageCount,
		StartedAt:    timeutil.Ptr(s.StartedAt),
		EndedAt:      timeutil.Ptr(s.EndedAt),
		FileSize:     int64Ptr(s.File.Size),
		FileHash:     strPtr(s.File.Hash),
	}
	if s.FirstMessage != "" {
		row.FirstMessage = &s.FirstMessage
	}
	return row
}

// toDBMessages converts parsed messages to storage rows. Timestamps
// keep the raw source strings.
func toDBMessages(
	sessionID string, msgs []parser.ParsedMessage,
) []db.Message {
	rows := make([]db.Message, len(msgs))
	for i, m := range msgs {
		rows[i] = db.Message{
			SessionID: sessionID,
			MsgID:     m.MsgID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}
	return rows
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func int64Ptr(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}
