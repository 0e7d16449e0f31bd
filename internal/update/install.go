package update

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// releaseBinaryName returns the executable name inside a release
// archive for the current platform.
func releaseBinaryName() string {
	if runtime.GOOS == "windows" {
		return "agentsync.exe"
	}
	return "agentsync"
}

// PerformUpdate downloads the release archive, verifies its
// checksum, and swaps it in over the running executable.
func PerformUpdate(
	info *UpdateInfo,
	progressFn func(downloaded, total int64),
) error {
	if info.Checksum == "" {
		return fmt.Errorf(
			"no checksum for %s - refusing unverified binary",
			info.AssetName,
		)
	}

	fmt.Printf("Downloading %s...\n", info.AssetName)
	tempDir, err := os.MkdirTemp("", "agentsync-update-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	archivePath := filepath.Join(tempDir, info.AssetName)
	gotChecksum, err := downloadArchive(
		info.DownloadURL, archivePath, info.Size, progressFn,
	)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	fmt.Println("Verifying and installing...")

	currentExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find current executable: %w", err)
	}
	currentExe, err = filepath.EvalSymlinks(currentExe)
	if err != nil {
		return fmt.Errorf("resolve symlinks: %w", err)
	}
	dstPath := filepath.Join(
		filepath.Dir(currentExe), releaseBinaryName(),
	)

	if err := installArchive(
		archivePath, info.Checksum, gotChecksum, dstPath,
	); err != nil {
		return err
	}
	fmt.Println("Update complete.")
	return nil
}

// installArchive verifies the archive against expectedChecksum and
// installs the contained binary at dstPath. gotChecksum is the
// digest computed during download; when empty the archive is
// re-hashed from disk.
func installArchive(
	archivePath, expectedChecksum, gotChecksum, dstPath string,
) error {
	if expectedChecksum == "" {
		return fmt.Errorf(
			"empty checksum - refusing unverified binary",
		)
	}

	if gotChecksum == "" {
		var err error
		gotChecksum, err = hashFile(archivePath)
		if err != nil {
			return fmt.Errorf("hash archive: %w", err)
		}
	}
	if !strings.EqualFold(gotChecksum, expectedChecksum) {
		return fmt.Errorf(
			"checksum mismatch: expected %s, got %s",
			expectedChecksum, gotChecksum,
		)
	}

	extractDir, err := os.MkdirTemp("", "agentsync-extract-*")
	if err != nil {
		return fmt.Errorf("create extract dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := extractTarGz(archivePath, extractDir); err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	srcPath := filepath.Join(extractDir, releaseBinaryName())
	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		return fmt.Errorf(
			"binary %s not found in archive", releaseBinaryName(),
		)
	}
	return installBinaryTo(srcPath, dstPath)
}

// installBinaryTo replaces the binary at dstPath with the one at
// srcPath using rename-then-copy, which also works on Windows where
// the running executable cannot be overwritten in place.
func installBinaryTo(srcPath, dstPath string) error {
	backupPath := dstPath + ".old"

	// Remove stale backup from a previous update.
	os.Remove(backupPath)

	if _, err := os.Stat(dstPath); err == nil {
		if err := os.Rename(dstPath, backupPath); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	if err := copyFile(srcPath, dstPath); err != nil {
		if restoreErr := os.Rename(backupPath, dstPath); restoreErr != nil {
			return fmt.Errorf(
				"install: %w (rollback also failed: %v)",
				err, restoreErr,
			)
		}
		return fmt.Errorf("install: %w", err)
	}

	if err := os.Chmod(dstPath, 0o755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	os.Remove(backupPath)
	return nil
}

// downloadArchive streams url to dest, reporting progress and
// returning the sha256 digest of the downloaded bytes.
func downloadArchive(
	url, dest string,
	totalSize int64,
	progressFn func(downloaded, total int64),
) (string, error) {
	resp, err := http.Get(url) //nolint:gosec
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	hasher := sha256.New()
	writer := io.MultiWriter(out, hasher)

	var downloaded int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				return "", writeErr
			}
			downloaded += int64(n)
			if progressFn != nil {
				progressFn(downloaded, totalSize)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// extractTarGz unpacks a .tar.gz archive into destDir. Symlinks and
// hard links are dropped; entry paths are validated against
// traversal.
func extractTarGz(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return fmt.Errorf("resolve dest dir: %w", err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, headerErr := tr.Next()
		if headerErr == io.EOF {
			break
		}
		if headerErr != nil {
			return headerErr
		}

		target, targetErr := sanitizePath(absDestDir, header.Name)
		if targetErr != nil {
			return fmt.Errorf(
				"invalid tar entry %q: %w", header.Name, targetErr,
			)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeTarEntry(target, tr, header.Mode); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeTarEntry(target string, r io.Reader, mode int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	outFile, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return err
	}
	outFile.Close()
	return os.Chmod(target, os.FileMode(mode))
}

// sanitizePath validates a tar entry name to prevent directory
// traversal, returning the resolved path under destDir.
func sanitizePath(destDir, name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute path not allowed")
	}

	cleanName := filepath.Clean(name)
	if filepath.IsAbs(cleanName) {
		return "", fmt.Errorf("absolute path not allowed")
	}
	if strings.HasPrefix(cleanName, "..") ||
		strings.Contains(
			cleanName, string(filepath.Separator)+"..",
		) {
		return "", fmt.Errorf("path traversal not allowed")
	}

	target := filepath.Join(destDir, cleanName)
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(
		absTarget, absDestDir+string(filepath.Separator),
	) && absTarget != absDestDir {
		return "", fmt.Errorf("path escapes destination directory")
	}
	return target, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
