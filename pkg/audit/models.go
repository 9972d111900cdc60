// Package audit persists conversation transitions through the frame
// datastore so history survives session restarts and in-memory eviction.
package audit

import (
	"time"

	"github.com/pitabwire/frame/data"

	"github.com/voicetyped/conversation/pkg/conversation"
)

// Transition is one persisted interaction change.
type Transition struct {
	data.BaseModel

	SessionID        string    `gorm:"type:varchar(100);not null;index:idx_ct_session" json:"session_id"`
	FromConversation string    `gorm:"type:varchar(255)"                               json:"from_conversation,omitempty"`
	FromInteraction  string    `gorm:"type:varchar(255)"                               json:"from_interaction,omitempty"`
	ToConversation   string    `gorm:"type:varchar(255)"                               json:"to_conversation,omitempty"`
	ToInteraction    string    `gorm:"type:varchar(255)"                               json:"to_interaction,omitempty"`
	Trigger          string    `gorm:"type:varchar(255);not null"                      json:"trigger"`
	OccurredAt       time.Time `gorm:"not null;index:idx_ct_occurred"                  json:"occurred_at"`
}

func (Transition) TableName() string { return "conversation_transitions" }

// FromRecord converts an in-memory record into its persisted form.
func FromRecord(rec conversation.TransitionRecord) *Transition {
	return &Transition{
		SessionID:        rec.SessionID,
		FromConversation: rec.FromConversation,
		FromInteraction:  rec.FromInteraction,
		ToConversation:   rec.ToConversation,
		ToInteraction:    rec.ToInteraction,
		Trigger:          rec.Trigger,
		OccurredAt:       rec.Timestamp,
	}
}

// Record converts back to the in-memory form.
func (t *Transition) Record() conversation.TransitionRecord {
	return conversation.TransitionRecord{
		SessionID:        t.SessionID,
		FromConversation: t.FromConversation,
		FromInteraction:  t.FromInteraction,
		ToConversation:   t.ToConversation,
		ToInteraction:    t.ToInteraction,
		Trigger:          t.Trigger,
		Timestamp:        t.OccurredAt,
	}
}
