package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aretw0/kernelctx/pkg/relay"
)

// subscribeEvents streams context events as server-sent events. Without a
// context_id query parameter every instance's events are streamed.
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event stream not configured", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		s.logger.Error("event stream: streaming not supported")
		return
	}

	contextID := r.URL.Query().Get("context_id")
	if contextID == "" {
		contextID = relay.AllContexts
	}

	events, cancel := s.events.Subscribe(contextID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("event stream opened", "context_id", contextID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("event stream closed", "context_id", contextID)
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("event stream: encode failed", "msg_type", evt.Type, "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}
