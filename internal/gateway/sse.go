package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/haasonsaas/relay/internal/engine"
)

// sseFrame is one event written before or from the engine stream.
type sseFrame struct {
	Name string
	Data any
}

// pumpSSE writes engine events in SSE framing until the stream closes or
// the client disconnects. The terminal done event carries the literal
// [DONE] marker rather than JSON.
func (s *Server) pumpSSE(w http.ResponseWriter, r *http.Request, events <-chan engine.Event, prelude []sseFrame) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeServerError(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, frame := range prelude {
		if err := writeSSE(w, frame.Name, frame.Data); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// Client went away; the run keeps going.
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, ev.Name, ev.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, data any) error {
	if s, ok := data.(string); ok {
		_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, s)
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}
