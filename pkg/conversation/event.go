package conversation

import (
	"time"

	"github.com/voicetyped/conversation/pkg/commands"
)

// Event names with control meaning. Every other name is treated as a
// sensor, speech or timer originated trigger event.
const (
	EventLoadConversation   = "LoadConversation"
	EventStartConversation  = "StartConversation"
	EventStopConversation   = "StopConversation"
	EventRemoveConversation = "RemoveConversation"
)

// Event is one inbound stimulus for a session.
type Event struct {
	Name           string            `json:"event_name,omitempty"`
	Trigger        Trigger           `json:"trigger_type,omitempty"`
	Filter         string            `json:"filter_value,omitempty"`
	Text           string            `json:"text,omitempty"`
	UtteranceID    string            `json:"utterance_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Conversation   *Conversation     `json:"conversation,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`

	// SentAt is the sender's clock. It is informational only.
	SentAt    time.Time `json:"timestamp,omitzero"`
	// Timestamp is the arrival time assigned by Session.Submit. Debounce
	// and trigger arming compare arrival times only.
	Timestamp time.Time `json:"-"`

	kind       eventKind
	generation uint64
	outcome    *commandOutcome
}

type eventKind int

const (
	kindTrigger eventKind = iota
	kindControl
	kindTimeout
	kindTimer
	kindSpeechComplete
	kindCommandComplete
)

type commandOutcome struct {
	name        string
	interaction string
	response    *commands.Response
	err         error
}

// IsControl reports whether the event drives the session lifecycle rather
// than trigger matching.
func (e Event) IsControl() bool {
	switch e.Name {
	case EventLoadConversation, EventStartConversation, EventStopConversation, EventRemoveConversation:
		return true
	}
	return false
}

// Label returns the event name for logs and history.
func (e Event) Label() string {
	if e.Name != "" && e.Trigger == "" {
		return e.Name
	}
	if e.Filter != "" {
		return string(e.Trigger) + "/" + e.Filter
	}
	return string(e.Trigger)
}
