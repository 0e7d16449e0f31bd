package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"syscall"
	"time"
)

const (
	// pollInterval is how often the watch monitor stats the
	// session's source file.
	pollInterval = 1500 * time.Millisecond
	// heartbeatTicks is how often a keepalive is sent to the
	// client, as a multiple of pollInterval (~30s).
	heartbeatTicks = 20
)

// watchState is the per-connection cache of a watched session's
// source file. An empty path means the source is not yet known and
// the next poll should try to resolve it again.
type watchState struct {
	path  string
	mtime int64
}

func (st *watchState) clear() {
	st.path = ""
	st.mtime = 0
}

// sessionMonitor polls a session's source file for changes and
// re-syncs on modification. It sends on the returned channel after
// each successful sync. The channel is closed when ctx is done.
func (s *Server) sessionMonitor(
	ctx context.Context, sessionID string,
) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)

		st := watchState{path: s.engine.ResolveSourceFile(sessionID)}
		if st.path != "" {
			if info, err := os.Stat(st.path); err == nil {
				st.mtime = info.ModTime().UnixNano()
			}
		}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.pollSession(sessionID, &st) {
					continue
				}
				select {
				case ch <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

// pollSession runs one poll cycle. Returns true if the session was
// synced successfully.
func (s *Server) pollSession(sessionID string, st *watchState) bool {
	if st.path != "" {
		return s.syncIfModified(sessionID, st)
	}
	// Source was unknown or went away earlier; try to resolve again.
	st.path = s.engine.ResolveSourceFile(sessionID)
	if st.path == "" {
		return false
	}
	info, err := os.Stat(st.path)
	if err != nil {
		return false
	}
	st.mtime = info.ModTime().UnixNano()
	return s.forceSync(sessionID)
}

// syncIfModified checks whether the cached file has been modified
// since the last poll and syncs if so. On not-exist or invalid-path
// stat errors the cache is cleared so pollSession re-resolves;
// transient errors (like permission denied) keep the cache intact.
// Returns true on a successful sync.
func (s *Server) syncIfModified(sessionID string, st *watchState) bool {
	info, err := os.Stat(st.path)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			st.clear()
		}
		return false
	}
	mtime := info.ModTime().UnixNano()
	if mtime <= st.mtime {
		return false
	}
	st.mtime = mtime
	return s.forceSync(sessionID)
}

// forceSync re-syncs one session regardless of its stored
// fingerprint. A touched file with identical content would
// otherwise be skipped as unchanged and the client never notified.
func (s *Server) forceSync(sessionID string) bool {
	res, err := s.engine.SyncSingleSession(sessionID, true)
	if err != nil {
		log.Printf("watch sync error: %v", err)
		return false
	}
	return res != nil
}

func (s *Server) handleWatchSession(
	w http.ResponseWriter, r *http.Request,
) {
	sessionID := r.PathValue("id")

	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError,
			"streaming not supported")
		return
	}

	updates := s.sessionMonitor(r.Context(), sessionID)
	heartbeat := time.NewTicker(
		pollInterval * heartbeatTicks,
	)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			stream.Send("session_updated", sessionID)
		case <-heartbeat.C:
			stream.Send("heartbeat",
				time.Now().Format(time.RFC3339))
		}
	}
}
