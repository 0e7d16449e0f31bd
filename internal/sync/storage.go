package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxStorageKeyLen = 200
	storageKeySumLen = 8
)

var storageKeyReplacer = strings.NewReplacer(
	"/", "-", `\`, "-", "~", "-",
)

// DeriveStorageKey converts a project identifier into a single
// directory name for the managed storage tree. Path-shaped
// identifiers are normalized and flattened; opaque names (already
// encoded) pass through. Keys that would exceed the length ceiling
// are truncated with a short hash suffix to stay unique. The result
// never contains a path separator and never starts with one.
func DeriveStorageKey(identifier string) string {
	key := identifier
	if strings.ContainsAny(identifier, `/\`) ||
		strings.HasPrefix(identifier, "~") {
		key = filepath.Clean(identifier)
		key = storageKeyReplacer.Replace(key)
		key = strings.TrimLeft(key, "-")
	}
	if key == "" {
		return "unknown"
	}
	if len(key) > maxStorageKeyLen {
		sum := sha256.Sum256([]byte(key))
		suffix := hex.EncodeToString(sum[:])[:storageKeySumLen]
		key = key[:maxStorageKeyLen-storageKeySumLen-1] + "-" + suffix
	}
	return key
}

// CopyFile copies src to dst, preserving the source's modification
// time so staleness checks against the copy agree with the original.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
