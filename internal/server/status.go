package server

import (
	"net/http"
	gosync "sync"
	"time"

	"github.com/agentsync/agentsync/internal/db"
	syncpkg "github.com/agentsync/agentsync/internal/sync"
)

// syncProgress folds the engine's progress events into a cumulative
// view of the most recent sync pass. The engine reports bare events
// and keeps no counters; anything the status endpoint shows about a
// run in flight lives here.
type syncProgress struct {
	mu      gosync.RWMutex
	current syncpkg.Progress
}

func (sp *syncProgress) reset() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.current = syncpkg.Progress{Phase: syncpkg.PhaseIdle}
}

func (sp *syncProgress) observe(ev syncpkg.Event) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.current.Apply(ev)
}

// abort marks a pass that ended without its done event, so the
// status endpoint does not report a dead run as still active.
func (sp *syncProgress) abort() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.current.Phase = syncpkg.PhaseIdle
	sp.current.CurrentProject = ""
	sp.current.CurrentSession = ""
}

func (sp *syncProgress) snapshot() syncpkg.Progress {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.current
}

// syncRunning reports whether a progress snapshot describes a pass
// still in flight.
func syncRunning(snap syncpkg.Progress) bool {
	return snap.Phase == syncpkg.PhaseDiscovering ||
		snap.Phase == syncpkg.PhaseSyncing
}

// handleTriggerSync runs a full sync pass. When the client supports
// streaming, each progress event is folded and the cumulative view
// sent as an SSE "progress" event, followed by "done" with the run
// report. Otherwise the report is returned as plain JSON when the
// run finishes.
func (s *Server) handleTriggerSync(
	w http.ResponseWriter, r *http.Request,
) {
	stream, err := NewSSEStream(w)
	if err != nil {
		// Non-streaming fallback
		stats, syncErr := s.engine.SyncAll(s.progress.observe)
		if syncErr != nil {
			s.progress.abort()
			writeError(w, http.StatusInternalServerError,
				syncErr.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	stats, syncErr := s.engine.SyncAll(func(ev syncpkg.Event) {
		s.progress.observe(ev)
		stream.SendJSON("progress", s.progress.snapshot())
	})
	if syncErr != nil {
		s.progress.abort()
		stream.SendJSON("error", jsonError{Error: syncErr.Error()})
		return
	}
	stream.SendJSON("done", stats)
}

func (s *Server) handleSyncStatus(
	w http.ResponseWriter, r *http.Request,
) {
	lastSync := s.engine.LastSync()
	stats := s.engine.LastSyncStats()

	var lastSyncStr string
	if !lastSync.IsZero() {
		lastSyncStr = lastSync.Format(time.RFC3339)
	}

	snap := s.progress.snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":   syncRunning(snap),
		"last_sync": lastSyncStr,
		"stats":     stats,
		"sync":      snap,
	})
}

func (s *Server) handleGetStats(
	w http.ResponseWriter, r *http.Request,
) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListProjects(
	w http.ResponseWriter, r *http.Request,
) {
	projects, err := s.db.GetProjects(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []db.ProjectInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
	})
}

func (s *Server) handleListMachines(
	w http.ResponseWriter, r *http.Request,
) {
	machines, err := s.db.GetMachines(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if machines == nil {
		machines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"machines": machines,
	})
}
