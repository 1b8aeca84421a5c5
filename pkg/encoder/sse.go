// Package encoder turns a session turn's event sequence into one of the two
// supported wire protocols: raw passthrough or A2A. Both render over SSE.
package encoder

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tandem-dev/tandem/pkg/apperrors"
)

// SSEWriter frames JSON payloads as server-sent events. It flushes after
// every frame so clients observe events as they happen.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher

	// OnWrite, when set, observes the name of every frame written. Used for
	// event counting.
	OnWrite func(name string)
}

// NewSSEWriter prepares w for an SSE response and returns a framing writer.
// The underlying writer does not have to support flushing; httptest
// recorders and plain buffers work in tests.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

// WriteEvent writes one `event:`/`data:` frame. data is marshaled unless it
// already is raw JSON.
func (s *SSEWriter) WriteEvent(name string, data any) error {
	var payload []byte
	switch v := data.(type) {
	case json.RawMessage:
		payload = v
	case []byte:
		payload = v
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeEncoderFailed, "marshal event payload", err)
		}
		payload = b
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return apperrors.New(apperrors.ErrCodeEncoderFailed, "write event frame", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	if s.OnWrite != nil {
		s.OnWrite(name)
	}
	return nil
}
