// Package api exposes conversation sessions over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/voicetyped/conversation/internal/character/manager"
	"github.com/voicetyped/conversation/pkg/conversation"
	"github.com/voicetyped/conversation/pkg/events"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// HistoryStore reads persisted transitions. *audit.Repository implements it.
type HistoryStore interface {
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]conversation.TransitionRecord, error)
}

// SnapshotStore reads stored snapshots. *snapshot.RedisStore implements it.
type SnapshotStore interface {
	Load(ctx context.Context, sessionID string) (*conversation.Snapshot, error)
}

// Handler provides REST endpoints for conversation sessions.
type Handler struct {
	manager   *manager.Manager
	groups    manager.Groups
	publisher *events.Publisher
	history   HistoryStore
	snapshots SnapshotStore
}

// Option configures optional Handler backends.
type Option func(*Handler)

// WithHistoryStore serves ?source=store history from hs.
func WithHistoryStore(hs HistoryStore) Option {
	return func(h *Handler) { h.history = hs }
}

// WithSnapshotStore answers for sessions that are no longer live.
func WithSnapshotStore(ss SnapshotStore) Option {
	return func(h *Handler) { h.snapshots = ss }
}

// NewHandler creates a new session API handler. publisher may be nil, in
// which case the stream endpoint is not registered.
func NewHandler(mgr *manager.Manager, groups manager.Groups, publisher *events.Publisher, opts ...Option) *Handler {
	h := &Handler{manager: mgr, groups: groups, publisher: publisher}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all session API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.Create)
	mux.HandleFunc("GET /api/v1/sessions", h.List)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/events", h.PostEvent)
	mux.HandleFunc("GET /api/v1/sessions/{id}/history", h.History)
	mux.HandleFunc("GET /api/v1/groups", h.ListGroups)
	if h.publisher != nil {
		mux.HandleFunc("GET /api/v1/sessions/{id}/stream", h.Stream)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Create handles POST /api/v1/sessions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	session, err := h.manager.Initialize(r.Context(), req.SessionID, h.manager.Params(req.GroupID))
	switch {
	case errors.Is(err, manager.ErrSessionExists):
		writeError(w, http.StatusConflict, "session already exists")
		return
	case conversation.IsFatal(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	if req.Start == nil || *req.Start {
		if err := session.Start(req.ConversationID, req.Variables); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to start session")
			return
		}
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		Summary: manager.Summary{
			SessionID: session.ID(),
			GroupID:   session.Snapshot().GroupID,
			Snapshot:  session.Snapshot(),
			LastSeen:  session.LastActivity(),
		},
		Live: true,
	})
}

// List handles GET /api/v1/sessions
func (h *Handler) List(w http.ResponseWriter, _ *http.Request) {
	sessions := h.manager.List()
	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{Summary: s, Live: true})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/sessions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s, ok := h.manager.Session(id); ok {
		snap := s.Snapshot()
		writeJSON(w, http.StatusOK, SessionResponse{
			Summary: manager.Summary{SessionID: id, GroupID: snap.GroupID, Snapshot: snap, LastSeen: s.LastActivity()},
			Live:    true,
		})
		return
	}

	if h.snapshots != nil {
		if snap, err := h.snapshots.Load(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, SessionResponse{
				Summary: manager.Summary{SessionID: id, GroupID: snap.GroupID, Snapshot: *snap, LastSeen: snap.UpdatedAt},
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "session not found")
}

// Delete handles DELETE /api/v1/sessions/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Close(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostEvent handles POST /api/v1/sessions/{id}/events
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var ev conversation.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	err := h.manager.Route(r.Context(), manager.InboundEvent{SessionID: id, Event: ev})
	switch {
	case errors.Is(err, manager.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, conversation.ErrSessionClosed):
		writeError(w, http.StatusGone, "session closed")
		return
	case conversation.IsFatal(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{SessionID: id, Queued: true})
}

// History handles GET /api/v1/sessions/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if r.URL.Query().Get("source") == "store" {
		if h.history == nil {
			writeError(w, http.StatusNotImplemented, "history store not configured")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		records, err := h.history.ListBySession(r.Context(), id, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list history")
			return
		}
		writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, Source: "store", Transitions: records})
		return
	}

	s, ok := h.manager.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: id, Source: "memory", Transitions: s.History()})
}

// ListGroups handles GET /api/v1/groups
func (h *Handler) ListGroups(w http.ResponseWriter, _ *http.Request) {
	ids := h.groups.GroupIDs()
	resp := make([]GroupResponse, 0, len(ids))
	for _, id := range ids {
		g, ok := h.groups.Get(id)
		if !ok {
			continue
		}
		convs := make([]string, 0, len(g.Conversations))
		for _, c := range g.Conversations {
			convs = append(convs, c.ID)
		}
		resp = append(resp, GroupResponse{
			ID:                  g.ID,
			Name:                g.Name,
			Description:         g.Description,
			StartupConversation: g.StartupConversation,
			Conversations:       convs,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
