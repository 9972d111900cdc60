package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/xid"
)

const streamBuffer = 128

// Stream handles GET /api/v1/sessions/{id}/stream. It writes the session's
// events as server-sent events until the client disconnects.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.manager.Session(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	subID := "sse-" + id + "-" + xid.New().String()
	ch := h.publisher.Subscribe(subID, streamBuffer)
	defer h.publisher.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			if env.SessionID != id {
				continue
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
