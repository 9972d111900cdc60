package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	SessionStarted      EventType = "session.started"
	SessionStopped      EventType = "session.stopped"
	ConversationStarted EventType = "conversation.started"
	ConversationStopped EventType = "conversation.stopped"
	ConversationLoaded  EventType = "conversation.loaded"
	ConversationRemoved EventType = "conversation.removed"
	ConversationList    EventType = "conversation.list"
	InteractionEntered  EventType = "interaction.entered"
	InteractionExited   EventType = "interaction.exited"
	TriggerMatched      EventType = "trigger.matched"
	CommandCompleted    EventType = "command.completed"
	CommandFailed       EventType = "command.failed"
	RobotDirective      EventType = "robot.directive"
	SkillEvent          EventType = "skill.event"
	SystemError         EventType = "error"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConversationData is the payload for conversation.* lifecycle events.
type ConversationData struct {
	GroupID        string `json:"group_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason,omitempty"`
}

// ConversationListData is the payload for conversation.list events.
type ConversationListData struct {
	GroupID         string   `json:"group_id"`
	ConversationIDs []string `json:"conversation_ids"`
}

// InteractionData is the payload for interaction.entered and
// interaction.exited events.
type InteractionData struct {
	ConversationID string `json:"conversation_id"`
	InteractionID  string `json:"interaction_id"`
	Trigger        string `json:"trigger,omitempty"`
	Interrupted    bool   `json:"interrupted,omitempty"`
}

// TriggerMatchedData is the payload for trigger.matched events.
type TriggerMatchedData struct {
	Trigger     string `json:"trigger"`
	Filter      string `json:"filter,omitempty"`
	Scope       string `json:"scope"`
	Owner       string `json:"owner"`
	FromState   string `json:"from_state"`
	ToState     string `json:"to_state"`
	OptionCount int    `json:"option_count"`
}

// CommandData is the payload for command.completed and command.failed events.
type CommandData struct {
	Command       string `json:"command"`
	InteractionID string `json:"interaction_id"`
	Error         string `json:"error,omitempty"`
	Stale         bool   `json:"stale,omitempty"`
}

// DirectiveData is the payload for robot.directive events.
type DirectiveData struct {
	Directive string            `json:"directive"`
	Params    map[string]string `json:"params,omitempty"`
}

// SkillEventData is the payload for skill.event events.
type SkillEventData struct {
	EventName string            `json:"event_name"`
	SourceID  string            `json:"source_id"`
	Payload   map[string]string `json:"payload,omitempty"`
	TargetIDs []string          `json:"target_ids,omitempty"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
