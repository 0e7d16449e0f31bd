package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mkSessionFile creates path (and its parents) with throwaway content
// and an mtime, returning the path.
func mkSessionFile(t *testing.T, path string, mtime time.Time) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiscoverClaudeProjects(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	alpha := filepath.Join(root, "-home-a-alpha")
	mkSessionFile(t, filepath.Join(alpha, "one.jsonl"), base)
	mkSessionFile(t, filepath.Join(alpha, "two.jsonl"), base.Add(time.Hour))
	mkSessionFile(t, filepath.Join(alpha, "agent-sub.jsonl"), base)
	mkSessionFile(t, filepath.Join(alpha, "notes.txt"), base)
	if err := os.MkdirAll(filepath.Join(alpha, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	// Empty project directories are still reported.
	if err := os.MkdirAll(filepath.Join(root, "-home-a-beta"), 0o755); err != nil {
		t.Fatal(err)
	}

	// Plain files at the root are not projects.
	mkSessionFile(t, filepath.Join(root, "stray.jsonl"), base)

	projects := DiscoverClaudeProjects(root, "*")
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if projects[0].DirName != "-home-a-alpha" || projects[1].DirName != "-home-a-beta" {
		t.Errorf("project order = %q, %q", projects[0].DirName, projects[1].DirName)
	}

	sessions := projects[0].Sessions
	if len(sessions) != 2 {
		t.Fatalf("alpha has %d sessions, want 2", len(sessions))
	}
	if filepath.Base(sessions[0].Path) != "two.jsonl" {
		t.Errorf("newest session = %s, want two.jsonl", sessions[0].Path)
	}
	if filepath.Base(sessions[1].Path) != "one.jsonl" {
		t.Errorf("older session = %s, want one.jsonl", sessions[1].Path)
	}

	if got := projects[1].Sessions; len(got) != 0 {
		t.Errorf("beta has %d sessions, want 0", len(got))
	}
}

func TestDiscoverClaudeProjectsGlob(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"-home-a-Alpha", "-home-a-beta"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if got := DiscoverClaudeProjects(root, "*alpha*"); len(got) != 1 {
		t.Errorf("case-insensitive glob matched %d projects, want 1", len(got))
	}
	if got := DiscoverClaudeProjects(root, ""); len(got) != 2 {
		t.Errorf("empty glob matched %d projects, want 2", len(got))
	}
	if got := DiscoverClaudeProjects(root, "["); len(got) != 0 {
		t.Errorf("malformed glob matched %d projects, want 0", len(got))
	}
}

func TestDiscoverClaudeProjectsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	if got := DiscoverClaudeProjects(root, "*"); len(got) != 0 {
		t.Errorf("got %d projects from missing root, want 0", len(got))
	}
}

func TestMatchesGlob(t *testing.T) {
	tests := []struct {
		glob, name string
		want       bool
	}{
		{"", "-home-a-app", true},
		{"*", "anything", true},
		{"*app*", "-home-MyApp", true},
		{"zzz", "abc", false},
		{"[", "a", false},
	}
	for _, tt := range tests {
		if got := matchesGlob(tt.glob, tt.name); got != tt.want {
			t.Errorf("matchesGlob(%q, %q) = %v, want %v", tt.glob, tt.name, got, tt.want)
		}
	}
}

func TestDiscoverCodexSessions(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	older := mkSessionFile(t, filepath.Join(root, "2024", "06", "01", "rollout-a.jsonl"), base)
	newer := mkSessionFile(t, filepath.Join(root, "2024", "06", "02", "rollout-b.jsonl"), base.Add(time.Hour))
	mkSessionFile(t, filepath.Join(root, "2024", "06", "01", "readme.md"), base)
	mkSessionFile(t, filepath.Join(root, "archive", "06", "03", "c.jsonl"), base)
	mkSessionFile(t, filepath.Join(root, "2024", "xx", "01", "d.jsonl"), base)

	files := DiscoverCodexSessions(root)
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Path != newer || files[1].Path != older {
		t.Errorf("order = %s, %s; want newest first", files[0].Path, files[1].Path)
	}
}

func TestDiscoverCodexSessionsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	if got := DiscoverCodexSessions(root); len(got) != 0 {
		t.Errorf("got %d files from missing root, want 0", len(got))
	}
}

func TestExtractRolloutUUID(t *testing.T) {
	const id = "019b9da7-1f41-7af2-80d9-6e293902fea8"
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{
			"plain timestamp",
			"rollout-2026-01-08T06-48-54-" + id + ".jsonl",
			id,
		},
		{
			"timestamp with milliseconds",
			"rollout-2026-01-08T06-48-54-123-" + id + ".jsonl",
			id,
		},
		{
			"timestamp with offset",
			"rollout-2026-01-08T06-48-54-07-00-" + id + ".jsonl",
			id,
		},
		{"too few segments", "rollout-019b9da7.jsonl", ""},
		{"tail is not a uuid", "rollout-2026-01-08-not-a-real-uuid-tail.jsonl", ""},
		{"plain name", "notes.jsonl", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractRolloutUUID(tt.filename); got != tt.want {
				t.Errorf("extractRolloutUUID(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}

func TestFindClaudeSourceFile(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	mkSessionFile(t, filepath.Join(root, "projA", "s1.jsonl"), now)
	want := mkSessionFile(
		t, filepath.Join(root, "projB", "22222222-2222-2222-2222-222222222222.jsonl"), now,
	)

	if got := FindClaudeSourceFile(root, "22222222-2222-2222-2222-222222222222"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := FindClaudeSourceFile(root, "s1"); got == "" {
		t.Error("s1 not found")
	}
	if got := FindClaudeSourceFile(root, "missing"); got != "" {
		t.Errorf("missing id resolved to %q", got)
	}
}

func TestFindClaudeSourceFileRejectsUnsafeIDs(t *testing.T) {
	root := t.TempDir()
	mkSessionFile(t, filepath.Join(root, "projA", "s1.jsonl"), time.Now())

	unsafe := []string{
		"",
		"..",
		"../etc/passwd",
		"/etc/passwd",
		"foo/bar",
		"test;ls",
		"test`ls`",
		"test$(ls)",
		"test\x00null",
		"a b",
	}
	for _, id := range unsafe {
		if got := FindClaudeSourceFile(root, id); got != "" {
			t.Errorf("unsafe id %q resolved to %q", id, got)
		}
	}
}

func TestFindClaudeSourceFileSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.jsonl")
	if err := os.WriteFile(outside, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	projDir := filepath.Join(root, "projA")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(projDir, "evil.jsonl")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if got := FindClaudeSourceFile(root, "evil"); got != "" {
		t.Errorf("symlink escaping the project dir resolved to %q", got)
	}
}

func TestFindCodexSourceFile(t *testing.T) {
	const id = "019b9da7-1f41-7af2-80d9-6e293902fea8"
	root := t.TempDir()
	now := time.Now()
	want := mkSessionFile(
		t,
		filepath.Join(root, "2024", "06", "02", "rollout-2024-06-02T09-00-00-"+id+".jsonl"),
		now,
	)

	if got := FindCodexSourceFile(root, id); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := FindCodexSourceFile(root, "019b9da7-1f41-7af2-80d9-000000000000"); got != "" {
		t.Errorf("wrong uuid resolved to %q", got)
	}
	if got := FindCodexSourceFile(root, ".."); got != "" {
		t.Errorf("unsafe id resolved to %q", got)
	}
}

func TestFindCodexSourceFileIgnoresNonRolloutNames(t *testing.T) {
	const id = "019b9da7-1f41-7af2-80d9-6e293902fea8"
	root := t.TempDir()
	mkSessionFile(t, filepath.Join(root, "2024", "06", "02", "session-"+id+".jsonl"), time.Now())

	if got := FindCodexSourceFile(root, id); got != "" {
		t.Errorf("non-rollout filename resolved to %q", got)
	}
}

func TestIsUnder(t *testing.T) {
	tests := []struct {
		dir, path string
		wantRel   string
		wantOK    bool
	}{
		{"/a/b", "/a/b/c", "c", true},
		{"/a/b", "/a/b/c/d", "c/d", true},
		{"/a/b", "/a/b", "", false},
		{"/a/b", "/a/bc", "", false},
		{"/a/b", "/x", "", false},
		{"/a/b", "/a", "", false},
	}
	for _, tt := range tests {
		rel, ok := isUnder(tt.dir, tt.path)
		if ok != tt.wantOK || rel != tt.wantRel {
			t.Errorf("isUnder(%q, %q) = (%q, %v), want (%q, %v)",
				tt.dir, tt.path, rel, ok, tt.wantRel, tt.wantOK)
		}
	}
}

func TestIsValidSessionID(t *testing.T) {
	valid := []string{
		"019b9da7-1f41-7af2-80d9-6e293902fea8",
		"abc123",
		"with_underscore-and-dash",
	}
	for _, id := range valid {
		if !isValidSessionID(id) {
			t.Errorf("isValidSessionID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", "a/b", "a.b", "a b", "a\x00b", "a;b", "ид"}
	for _, id := range invalid {
		if isValidSessionID(id) {
			t.Errorf("isValidSessionID(%q) = true, want false", id)
		}
	}
}

func TestIsDigits(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"2024", true},
		{"06", true},
		{"", false},
		{"20x4", false},
		{"-1", false},
	}
	for _, tt := range tests {
		if got := isDigits(tt.s); got != tt.want {
			t.Errorf("isDigits(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}
