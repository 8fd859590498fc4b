package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/schedflow/internal/streaming"
)

// handleStream streams hub events as Server-Sent Events. runId, workflowId
// and eventType (comma-separated) narrow the subscription.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := streaming.EventFilter{
		RunID:      q.Get("runId"),
		WorkflowID: q.Get("workflowId"),
	}
	for _, t := range strings.Split(q.Get("eventType"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.EventTypes = append(filter.EventTypes, t)
		}
	}
	s.serveSSE(w, r, filter)
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
