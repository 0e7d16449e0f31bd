package sync

import (
	"errors"
	"io/fs"
	"testing"
)

const (
	helloWorldHash = "6f5902ac237024bdd0c176cb93063dc4"
	emptyInputHash = "d41d8cd98f00b204e9800998ecf8427e"
)

// requirePathError asserts that err is non-nil and wraps *fs.PathError.
func requirePathError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("expected *fs.PathError, got %T: %v", err, err)
	}
}

// failingReader is an io.Reader that always returns an error.
type failingReader struct {
	err error
}

func (f failingReader) Read(p []byte) (n int, err error) {
	return 0, f.err
}
