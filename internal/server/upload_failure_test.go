package server_test

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentsync/agentsync/internal/testjsonl"
)

func TestUploadSession_SaveFailure(t *testing.T) {
	te := setup(t)

	// Uploads land under uploads/<project>. Create a file where
	// the project directory should be so os.MkdirAll fails.
	projectPath := filepath.Join(te.dataDir, "uploads", "failproj")
	if err := os.MkdirAll(
		filepath.Dir(projectPath), 0o755,
	); err != nil {
		t.Fatalf("creating uploads dir: %v", err)
	}
	if err := os.WriteFile(projectPath, nil, 0o644); err != nil {
		t.Fatalf("creating conflict file: %v", err)
	}

	w := te.upload(t, "test.jsonl", "{}", "project=failproj")
	assertStatus(t, w, http.StatusInternalServerError)
	assertErrorResponse(t, w, "failed to save upload")
}

func TestUploadSession_DBFailure(t *testing.T) {
	te := setup(t)

	// Close the DB to force the store step to fail.
	te.db.Close()

	content := testjsonl.NewSessionBuilder().
		AddClaudeUser(tsEarly, "Hello").
		String()
	w := te.upload(t, "test.jsonl", content, "project=myproj")
	assertStatus(t, w, http.StatusInternalServerError)
	assertErrorResponse(t, w, "failed to save session to database")
}
