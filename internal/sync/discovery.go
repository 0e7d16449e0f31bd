package sync

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// SessionFile is one discovered session source file.
type SessionFile struct {
	Path  string
	Size  int64
	Mtime time.Time
}

// Project is one encoded project directory under the Claude root,
// with its session files ordered newest first.
type Project struct {
	Dir      string // absolute directory path
	DirName  string // encoded directory name
	Sessions []SessionFile
}

// DiscoverClaudeProjects lists project directories under the Claude
// projects root whose name matches glob (case-insensitive), each
// with its JSONL session files newest first. Sub-agent transcripts
// (agent- prefixed stems) are excluded. A missing root yields an
// empty list.
func DiscoverClaudeProjects(root, glob string) []Project {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var projects []Project
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !matchesGlob(glob, entry.Name()) {
			continue
		}

		dir := filepath.Join(root, entry.Name())
		projects = append(projects, Project{
			Dir:      dir,
			DirName:  entry.Name(),
			Sessions: listSessionFiles(dir),
		})
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].DirName < projects[j].DirName
	})
	return projects
}

// matchesGlob reports whether name matches the case-insensitive
// project glob. An empty glob matches everything; a malformed glob
// matches nothing.
func matchesGlob(glob, name string) bool {
	if glob == "" {
		glob = "*"
	}
	ok, err := filepath.Match(
		strings.ToLower(glob), strings.ToLower(name),
	)
	return err == nil && ok
}

// listSessionFiles returns the JSONL session files in dir, newest
// modification time first.
func listSessionFiles(dir string) []SessionFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var files []SessionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		stem := strings.TrimSuffix(name, ".jsonl")
		if strings.HasPrefix(stem, "agent-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SessionFile{
			Path:  filepath.Join(dir, name),
			Size:  info.Size(),
			Mtime: info.ModTime(),
		})
	}

	sortNewestFirst(files)
	return files
}

// DiscoverCodexSessions walks the year/month/day tree under the
// Codex sessions root and returns all JSONL files, newest first.
// A missing root yields an empty list.
func DiscoverCodexSessions(root string) []SessionFile {
	var files []SessionFile

	walkCodexDayDirs(root, func(dayPath string) bool {
		entries, err := os.ReadDir(dayPath)
		if err != nil {
			return true
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			files = append(files, SessionFile{
				Path:  filepath.Join(dayPath, entry.Name()),
				Size:  info.Size(),
				Mtime: info.ModTime(),
			})
		}
		return true
	})

	sortNewestFirst(files)
	return files
}

func sortNewestFirst(files []SessionFile) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Mtime.After(files[j].Mtime)
	})
}

// FindClaudeSourceFile locates the source JSONL file for a Claude
// session ID by searching each project directory. The ID must pass
// the character allow-list, and the candidate must still resolve
// inside its project directory after following symlinks.
func FindClaudeSourceFile(projectsDir, sessionID string) string {
	if !isValidSessionID(sessionID) {
		return ""
	}

	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		return ""
	}

	target := sessionID + ".jsonl"
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projDir := filepath.Join(projectsDir, entry.Name())
		candidate := filepath.Join(projDir, target)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if !resolvesInside(projDir, candidate) {
			continue
		}
		return candidate
	}
	return ""
}

// FindCodexSourceFile locates a Codex session file by UUID,
// searching the year/month/day tree for rollout-{timestamp}-{uuid}
// filenames whose trailing UUID matches exactly.
func FindCodexSourceFile(sessionsDir, sessionID string) string {
	if !isValidSessionID(sessionID) {
		return ""
	}

	var result string
	walkCodexDayDirs(sessionsDir, func(dayPath string) bool {
		if result != "" {
			return false
		}
		entries, err := os.ReadDir(dayPath)
		if err != nil {
			return true
		}
		for _, f := range entries {
			if f.IsDir() {
				continue
			}
			name := f.Name()
			if !strings.HasPrefix(name, "rollout-") ||
				!strings.HasSuffix(name, ".jsonl") {
				continue
			}
			if extractRolloutUUID(name) == sessionID {
				result = filepath.Join(dayPath, name)
				return false
			}
		}
		return true
	})
	return result
}

// walkCodexDayDirs traverses a Codex sessions directory with
// year/month/day structure, calling fn for each all-digit day
// directory. fn returns false to stop traversal.
func walkCodexDayDirs(
	root string, fn func(dayPath string) bool,
) {
	years, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, year := range years {
		if !year.IsDir() || !isDigits(year.Name()) {
			continue
		}
		yearPath := filepath.Join(root, year.Name())
		months, err := os.ReadDir(yearPath)
		if err != nil {
			continue
		}
		for _, month := range months {
			if !month.IsDir() || !isDigits(month.Name()) {
				continue
			}
			monthPath := filepath.Join(yearPath, month.Name())
			days, err := os.ReadDir(monthPath)
			if err != nil {
				continue
			}
			for _, day := range days {
				if !day.IsDir() || !isDigits(day.Name()) {
					continue
				}
				if !fn(filepath.Join(monthPath, day.Name())) {
					return
				}
			}
		}
	}
}

// extractRolloutUUID pulls the trailing UUID from a rollout
// filename. The timestamp portion may itself contain dashes
// (milliseconds, timezone offsets), so the UUID is taken as the
// last five dash-separated segments of the stem and then validated.
func extractRolloutUUID(filename string) string {
	stem := strings.TrimSuffix(filename, ".jsonl")
	parts := strings.Split(stem, "-")
	if len(parts) < 5 {
		return ""
	}
	id := strings.Join(parts[len(parts)-5:], "-")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

// resolvesInside reports whether path still lives under dir after
// resolving symlinks and relative segments in both.
func resolvesInside(dir, path string) bool {
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	_, ok := isUnder(resolvedDir, resolved)
	return ok
}

// isUnder checks whether path is strictly inside dir after cleaning
// both paths. Returns the relative path on success.
func isUnder(dir, path string) (string, bool) {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", false
	}
	sep := string(filepath.Separator)
	if rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+sep) {
		return "", false
	}
	return rel, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isValidSessionID reports whether id is safe to use in a filename
// lookup: non-empty and built only from [A-Za-z0-9_-]. Path
// separators, dot-dot segments, null bytes, and shell metacharacters
// all fail by construction.
func isValidSessionID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if !isAlphanumOrDashUnderscore(c) {
			return false
		}
	}
	return true
}

func isAlphanumOrDashUnderscore(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_'
}
