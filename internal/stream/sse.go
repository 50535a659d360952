package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Writer emits Server-Sent-Event frames. Frame payloads are JSON;
// comment lines (":" prefix) are heartbeats or anti-buffering padding
// that clients must ignore.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares an SSE response: headers disable caching and
// proxy buffering and pin the content encoding so intermediaries pass
// frames through unmodified.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("Content-Encoding", "identity")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent writes one named frame with a JSON payload and flushes.
func (w *Writer) WriteEvent(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// WriteComment writes a comment-only line. Used for heartbeats.
func (w *Writer) WriteComment(text string) error {
	if _, err := fmt.Fprintf(w.w, ":%s\n\n", text); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// WritePadding emits a comment of n spaces. Some intermediaries hold
// small responses back; the prelude defeats that.
func (w *Writer) WritePadding(n int) error {
	return w.WriteComment(strings.Repeat(" ", n))
}
