package server

import (
	"net/http"
	"strconv"
)

// parseIntParam reads an optional integer query parameter. An
// absent or empty parameter yields zero. On a malformed value it
// writes a 400 response and returns ok=false so the handler can
// stop.
func parseIntParam(
	w http.ResponseWriter, r *http.Request, name string,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			"invalid "+name+": must be an integer")
		return 0, false
	}
	return n, true
}

// clampLimit applies the default for non-positive limits and caps
// the value at max.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
