package server

import (
	"net/http"

	"github.com/agentsync/agentsync/internal/db"
)

type sessionListResponse struct {
	Sessions []db.Session `json:"sessions"`
	Count    int          `json:"count"`
}

type messageListResponse struct {
	Messages []db.Message `json:"messages"`
	Count    int          `json:"count"`
}

func (s *Server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	q := r.URL.Query()

	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	limit = clampLimit(limit, db.DefaultSessionLimit, db.MaxSessionLimit)

	offset, ok := parseIntParam(w, r, "offset")
	if !ok {
		return
	}

	filter := db.SessionFilter{
		Project: q.Get("project"),
		Machine: q.Get("machine"),
		Agent:   q.Get("agent"),
		Limit:   limit,
		Offset:  offset,
	}

	sessions, err := s.db.ListSessions(r.Context(), filter)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}

	writeJSON(w, http.StatusOK, sessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

func (s *Server) handleGetSession(
	w http.ResponseWriter, r *http.Request,
) {
	id := r.PathValue("id")
	session, err := s.db.GetSession(r.Context(), id)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGetMessages(
	w http.ResponseWriter, r *http.Request,
) {
	id := r.PathValue("id")
	session, err := s.db.GetSession(r.Context(), id)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	msgs, err := s.db.GetMessages(r.Context(), id)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []db.Message{}
	}

	writeJSON(w, http.StatusOK, messageListResponse{
		Messages: msgs,
		Count:    len(msgs),
	})
}
