package parser

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// projectMarkers are path components that commonly contain project
// checkouts. The legacy name heuristic keys off the last marker it
// finds in an encoded directory name.
var projectMarkers = []string{
	"users", "home", "code", "projects", "documents",
	"downloads", "experiments", "src", "workspace",
}

// LegacyProjectName converts an encoded project directory name to a
// display name. Claude encodes paths like /Users/alice/code/my-app
// as -Users-alice-code-my-app: separators become hyphens, so hyphens
// in a leaf name are indistinguishable from separators. The
// heuristic keeps at most the last two tokens after the last known
// marker so hyphenated leaf names survive while deeper nesting
// collapses. Names without the leading hyphen are not encoded paths
// and pass through unchanged.
func LegacyProjectName(dirName string) string {
	if !strings.HasPrefix(dirName, "-") {
		return dirName
	}

	tokens := strings.Split(dirName, "-")

	last := -1
	for i, tok := range tokens {
		if i+1 >= len(tokens) {
			break
		}
		for _, marker := range projectMarkers {
			if strings.EqualFold(tok, marker) {
				last = i
				break
			}
		}
	}
	if last >= 0 {
		rest := tokens[last+1:]
		if len(rest) > 2 {
			rest = rest[len(rest)-2:]
		}
		if name := strings.Join(rest, "-"); name != "" {
			return name
		}
	}

	// No usable marker: drop the empty leading token.
	return strings.Join(tokens[1:], "-")
}

// DeriveDisplayName maps a project identifier to a short display
// name. Path-shaped identifiers use their leaf component; encoded
// directory names go through the legacy heuristic.
func DeriveDisplayName(identifier string) string {
	if identifier == "" {
		return ""
	}
	if isPathShaped(identifier) {
		base := filepath.Base(filepath.Clean(identifier))
		if base == "/" || base == "." || base == string(filepath.Separator) {
			return "unknown"
		}
		return base
	}
	return LegacyProjectName(identifier)
}

func isPathShaped(s string) bool {
	return strings.ContainsAny(s, `/\`) || strings.HasPrefix(s, "~")
}

// CodexProjectName extracts a project name from a Codex session's
// working directory: the last path component, or "unknown" when
// the cwd is absent or has no usable leaf.
func CodexProjectName(cwd string) string {
	if cwd == "" {
		return "unknown"
	}
	trimmed := strings.TrimRight(cwd, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// cwdScanLimit bounds how many leading lines are scanned for a
// working-directory field. Session files record cwd in their first
// few events, so a short window avoids reading large transcripts.
const cwdScanLimit = 50

// ExtractWorkingDirectory scans the first lines of a session file
// for a working-directory field, checking the flat Claude layout
// first and the payload-nested Codex layout second. Returns "" when
// the file is unreadable or no cwd appears within the window.
func ExtractWorkingDirectory(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(
		make([]byte, 0, initialScanBufSize), maxScanTokenSize,
	)

	for n := 0; n < cwdScanLimit && scanner.Scan(); n++ {
		line := scanner.Text()
		if !gjson.Valid(line) {
			continue
		}
		if cwd := gjson.Get(line, "cwd").Str; cwd != "" {
			return cwd
		}
		if cwd := gjson.Get(line, "payload.cwd").Str; cwd != "" {
			return cwd
		}
	}
	return ""
}
