package config

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// MigrateFromLegacy copies data from ~/.agent-session-viewer to the
// current data directory if it doesn't exist yet. That directory
// belongs to this tool's predecessor; its managed session copies and
// uploads are plain JSONL and carry over as-is. Its sessions.db does
// not: the schema is incompatible, and the index rebuilds from live
// source files on the first sync. Call this once during startup,
// before opening the database.
func MigrateFromLegacy(dataDir string) {
	if _, err := os.Stat(dataDir); err == nil {
		return // new dir already exists
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	legacyDir := filepath.Join(home, ".agent-session-viewer")
	if _, err := os.Stat(legacyDir); err != nil {
		return // no legacy dir either
	}
	log.Printf(
		"Migrating data from %s to %s", legacyDir, dataDir,
	)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		log.Printf(
			"migration: cannot create %s: %v", dataDir, err,
		)
		return
	}

	for _, sub := range []string{"sessions", "uploads"} {
		src := filepath.Join(legacyDir, sub)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyTree(src, filepath.Join(dataDir, sub)); err != nil {
			log.Printf("migration: copying %s: %v", sub, err)
		} else {
			log.Printf("migration: copied %s/", sub)
		}
	}

	// Copy config.json if present
	src := filepath.Join(legacyDir, "config.json")
	if _, err := os.Stat(src); err == nil {
		dst := filepath.Join(dataDir, "config.json")
		if err := copyFile(src, dst, 0o600); err != nil {
			log.Printf("migration: copying config: %v", err)
		}
	}
}

// copyTree copies a directory recursively. Non-regular files are
// skipped.
func copyTree(srcRoot, dstRoot string) error {
	return filepath.WalkDir(
		srcRoot,
		func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(srcRoot, path)
			if err != nil {
				return err
			}
			dst := filepath.Join(dstRoot, rel)
			if d.IsDir() {
				return os.MkdirAll(dst, 0o755)
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return copyFile(path, dst, 0o644)
		},
	)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(
		dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode,
	)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying: %w", err)
	}
	return out.Close()
}
