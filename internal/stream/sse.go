// File: internal/stream/sse.go
package stream

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	json "github.com/json-iterator/go"
)

// Sink receives the frames of one run in order.
type Sink interface {
	Send(Frame) error
}

// SSEWriter writes values as server-sent events of the form
// "data: <json>\n\n", flushing after each one when the writer supports it.
type SSEWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

var _ Sink = (*SSEWriter)(nil)

// NewSSEWriter wraps w. An http.ResponseWriter is flushed after every event.
func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// PrepareHeaders sets the response headers of an event stream.
func PrepareHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Send writes one progress frame.
func (s *SSEWriter) Send(f Frame) error {
	return s.WriteJSON(f)
}

// WriteJSON writes v as one data event.
func (s *SSEWriter) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.write("data: " + string(data) + "\n\n")
}

// Comment writes an SSE comment line, which clients ignore. It keeps idle
// connections open through proxies.
func (s *SSEWriter) Comment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *SSEWriter) write(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, event); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
