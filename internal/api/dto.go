package api

import (
	"github.com/voicetyped/conversation/internal/character/manager"
	"github.com/voicetyped/conversation/pkg/conversation"
)

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	SessionID      string            `json:"session_id"`
	GroupID        string            `json:"group_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	// Start defaults to true.
	Start *bool `json:"start,omitempty"`
}

// SessionResponse is the API response for one session.
type SessionResponse struct {
	manager.Summary
	Live bool `json:"live"`
}

// HistoryResponse lists a session's transitions.
type HistoryResponse struct {
	SessionID   string                          `json:"session_id"`
	Source      string                          `json:"source"`
	Transitions []conversation.TransitionRecord `json:"transitions"`
}

// GroupResponse describes a loaded conversation group.
type GroupResponse struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name,omitempty"`
	Description         string   `json:"description,omitempty"`
	StartupConversation string   `json:"startup_conversation"`
	Conversations       []string `json:"conversations"`
}

// AcceptedResponse acknowledges a queued event.
type AcceptedResponse struct {
	SessionID string `json:"session_id"`
	Queued    bool   `json:"queued"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
