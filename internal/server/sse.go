package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const sseWriteTimeout = 3 * time.Second

// SSEStream is a Server-Sent Events connection. Writes carry a
// bounded deadline so a stalled client cannot pin a handler
// goroutine.
type SSEStream struct {
	rw      http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// NewSSEStream sets the SSE headers and flushes them to the client.
// Returns an error if the ResponseWriter does not support streaming.
func NewSSEStream(w http.ResponseWriter) (*SSEStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	f.Flush()
	return &SSEStream{
		rw:      w,
		flusher: f,
		rc:      http.NewResponseController(w),
	}, nil
}

// Send writes one SSE event with string data. Returns false when the
// write fails.
func (s *SSEStream) Send(event, data string) bool {
	_ = s.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
	defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()

	_, err := fmt.Fprintf(s.rw, "event: %s\ndata: %s\n\n", event, data)
	if err != nil {
		log.Printf("SSE write error for %q: %v", event, err)
		return false
	}
	s.flusher.Flush()
	return true
}

// SendJSON writes one SSE event with JSON-serialized data. Logs and
// skips the event if marshaling fails.
func (s *SSEStream) SendJSON(event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("SSE marshal error for %q: %v", event, err)
		return false
	}
	return s.Send(event, string(data))
}
