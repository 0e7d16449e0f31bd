package server

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/agentsync/agentsync/internal/sync"
)

type uploadRequest struct {
	project  string
	machine  string
	file     multipart.File
	filename string
}

// parseUploadRequest extracts and validates query params and
// the multipart file from an upload request. The caller must
// close req.file when done.
func parseUploadRequest(
	r *http.Request,
) (*uploadRequest, string) {
	project := strings.TrimSpace(
		r.URL.Query().Get("project"),
	)
	if project == "" {
		return nil, "project required"
	}
	if !isSafeName(project) {
		return nil, "invalid project name"
	}

	machine := r.URL.Query().Get("machine")
	if machine == "" {
		machine = "remote"
	}
	if !isSafeName(machine) {
		return nil, "invalid machine name"
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "file field required"
	}

	if !strings.HasSuffix(header.Filename, ".jsonl") {
		file.Close()
		return nil, "file must be .jsonl"
	}

	safeName := filepath.Base(header.Filename)
	if safeName != header.Filename || !isSafeName(
		strings.TrimSuffix(safeName, ".jsonl"),
	) {
		file.Close()
		return nil, "invalid filename"
	}

	return &uploadRequest{
		project:  project,
		machine:  machine,
		file:     file,
		filename: safeName,
	}, ""
}

func (s *Server) handleUploadSession(
	w http.ResponseWriter, r *http.Request,
) {
	req, errMsg := parseUploadRequest(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	defer req.file.Close()

	data, err := io.ReadAll(req.file)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			"reading upload: "+err.Error())
		return
	}

	res, err := s.engine.UploadSession(
		data, req.filename, req.project, req.machine,
	)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	if res.Messages == 0 {
		writeError(w, http.StatusBadRequest,
			"no messages parsed from upload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": res.SessionID,
		"project":    res.Project,
		"machine":    req.machine,
		"messages":   res.Messages,
	})
}

// writeUploadError maps engine upload failures to HTTP responses.
// Filesystem failures and store failures are server-side; anything
// else came from the uploaded content.
func writeUploadError(w http.ResponseWriter, err error) {
	var storeErr *sync.StoreError
	if errors.As(err, &storeErr) {
		log.Printf("Error saving session to DB: %v", err)
		writeError(w, http.StatusInternalServerError,
			"failed to save session to database")
		return
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		log.Printf("Error saving upload: %v", err)
		writeError(w, http.StatusInternalServerError,
			"failed to save upload")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// isSafeName rejects names containing path separators, "..",
// or starting with "." to prevent directory traversal.
func isSafeName(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return true
}
