package conversation

import (
	"strings"
	"time"
)

// Trigger is the category of stimulus an interaction can react to.
type Trigger string

const (
	TriggerNone                Trigger = "None"
	TriggerSpeechHeard         Trigger = "SpeechHeard"
	TriggerTimeout             Trigger = "Timeout"
	TriggerTimer               Trigger = "Timer"
	TriggerFaceRecognized      Trigger = "FaceRecognized"
	TriggerBumperPressed       Trigger = "BumperPressed"
	TriggerBumperReleased      Trigger = "BumperReleased"
	TriggerCapTouched          Trigger = "CapTouched"
	TriggerCapReleased         Trigger = "CapReleased"
	TriggerQrTagSeen           Trigger = "QrTagSeen"
	TriggerArTagSeen           Trigger = "ArTagSeen"
	TriggerSerialMessage       Trigger = "SerialMessage"
	TriggerObjectSeen          Trigger = "ObjectSeen"
	TriggerExternalEvent       Trigger = "ExternalEvent"
	TriggerAudioCompleted      Trigger = "AudioCompleted"
	TriggerKeyPhraseRecognized Trigger = "KeyPhraseRecognized"
)

var knownTriggers = map[Trigger]bool{
	TriggerNone: true, TriggerSpeechHeard: true, TriggerTimeout: true, TriggerTimer: true,
	TriggerFaceRecognized: true, TriggerBumperPressed: true, TriggerBumperReleased: true,
	TriggerCapTouched: true, TriggerCapReleased: true, TriggerQrTagSeen: true,
	TriggerArTagSeen: true, TriggerSerialMessage: true, TriggerObjectSeen: true,
	TriggerExternalEvent: true, TriggerAudioCompleted: true, TriggerKeyPhraseRecognized: true,
}

// Valid reports whether t is one of the known trigger types.
func (t Trigger) Valid() bool {
	return knownTriggers[t]
}

// Filters with a fixed meaning for SpeechHeard triggers.
const (
	FilterHeardUnknownSpeech = "HeardUnknownSpeech"
	FilterHeardNothing       = "HeardNothing"
)

// DefaultInteractionFailedTimeout applies when an interaction leaves its
// failure timeout unset.
const DefaultInteractionFailedTimeout = 120 * time.Second

// TriggerDetail describes one stimulus an interaction, conversation or
// group reacts to.
type TriggerDetail struct {
	ID                       string  `yaml:"id"                          json:"id,omitempty"`
	Name                     string  `yaml:"name"                        json:"name,omitempty"`
	Trigger                  Trigger `yaml:"trigger"                     json:"trigger"`
	TriggerFilter            string  `yaml:"trigger_filter"              json:"trigger_filter,omitempty"`
	UserDefinedTriggerFilter string  `yaml:"user_defined_trigger_filter" json:"user_defined_trigger_filter,omitempty"`

	// Secondary triggers that gate when this trigger is armed.
	StartingTrigger       Trigger `yaml:"starting_trigger"        json:"starting_trigger,omitempty"`
	StartingTriggerFilter string  `yaml:"starting_trigger_filter" json:"starting_trigger_filter,omitempty"`
	StartingTriggerDelay  int     `yaml:"starting_trigger_delay"  json:"starting_trigger_delay,omitempty"` // ms
	StoppingTrigger       Trigger `yaml:"stopping_trigger"        json:"stopping_trigger,omitempty"`
	StoppingTriggerFilter string  `yaml:"stopping_trigger_filter" json:"stopping_trigger_filter,omitempty"`
	StoppingTriggerDelay  int     `yaml:"stopping_trigger_delay"  json:"stopping_trigger_delay,omitempty"` // ms

	ManagementAccess string `yaml:"management_access" json:"management_access,omitempty"`
}

// Label returns a human readable identifier for logs.
func (d TriggerDetail) Label() string {
	if d.Name != "" {
		return d.Name
	}
	parts := []string{string(d.Trigger)}
	if d.TriggerFilter != "" {
		parts = append(parts, d.TriggerFilter)
	}
	if d.UserDefinedTriggerFilter != "" {
		parts = append(parts, d.UserDefinedTriggerFilter)
	}
	return strings.Join(parts, "/")
}

// TriggerActionOption is one possible outcome of a matched trigger.
type TriggerActionOption struct {
	GoToConversation       string `yaml:"go_to_conversation"       json:"go_to_conversation,omitempty"`
	GoToInteraction        string `yaml:"go_to_interaction"        json:"go_to_interaction,omitempty"`
	Weight                 int    `yaml:"weight"                   json:"weight,omitempty"`
	InterruptCurrentAction bool   `yaml:"interrupt_current_action" json:"interrupt_current_action,omitempty"`
	Retrigger              bool   `yaml:"retrigger"                json:"retrigger,omitempty"`
	Stop                   bool   `yaml:"stop"                     json:"stop,omitempty"`
}

func (o TriggerActionOption) hasAction() bool {
	return o.Stop || o.Retrigger || o.GoToConversation != "" || o.GoToInteraction != ""
}

// TriggerMapping binds a TriggerDetail to its candidate actions.
type TriggerMapping struct {
	Detail  TriggerDetail         `yaml:"trigger" json:"trigger"`
	Actions []TriggerActionOption `yaml:"actions" json:"actions"`
}

// SkillMessage is forwarded to external skills when an interaction starts.
type SkillMessage struct {
	EventName string            `yaml:"event_name" json:"event_name"`
	Payload   map[string]string `yaml:"payload"    json:"payload,omitempty"`
	TargetIDs []string          `yaml:"target_ids" json:"target_ids,omitempty"`
}

// CommandInvocation names an external command to run when an interaction
// starts. Its completion re-enters the session as an ExternalEvent whose
// filter is the command name.
type CommandInvocation struct {
	Name   string            `yaml:"name"   json:"name"`
	Params map[string]string `yaml:"params" json:"params,omitempty"`
}

// Interaction is one node in the conversation graph.
type Interaction struct {
	ID                 string   `yaml:"id"                   json:"id"`
	Name               string   `yaml:"name"                 json:"name"`
	Animation          string   `yaml:"animation"            json:"animation,omitempty"`
	PreSpeechAnimation string   `yaml:"pre_speech_animation" json:"pre_speech_animation,omitempty"`
	Speech             string   `yaml:"speech"               json:"speech,omitempty"`
	UsePreSpeech       bool     `yaml:"use_pre_speech"       json:"use_pre_speech,omitempty"`
	PreSpeechPhrases   []string `yaml:"pre_speech_phrases"   json:"pre_speech_phrases,omitempty"`
	DisplayText        string   `yaml:"display_text"         json:"display_text,omitempty"`
	DisplayImage       string   `yaml:"display_image"        json:"display_image,omitempty"`

	StartListening            bool    `yaml:"start_listening"                json:"start_listening,omitempty"`
	AllowKeyPhraseRecognition bool    `yaml:"allow_key_phrase_recognition"   json:"allow_key_phrase_recognition,omitempty"`
	ListenTimeoutSec          int     `yaml:"listen_timeout_sec"             json:"listen_timeout_sec,omitempty"`
	SilenceTimeoutSec         int     `yaml:"silence_timeout_sec"            json:"silence_timeout_sec,omitempty"`
	FailedTimeoutSec          float64 `yaml:"interaction_failed_timeout_sec" json:"interaction_failed_timeout_sec,omitempty"`

	Weight                 int  `yaml:"weight"                   json:"weight,omitempty"`
	Retrigger              bool `yaml:"retrigger"                json:"retrigger,omitempty"`
	InterruptCurrentAction bool `yaml:"interrupt_current_action" json:"interrupt_current_action,omitempty"`

	SkillMessages []SkillMessage      `yaml:"skill_messages" json:"skill_messages,omitempty"`
	Commands      []CommandInvocation `yaml:"commands"       json:"commands,omitempty"`
	Triggers      []TriggerMapping    `yaml:"triggers"       json:"triggers,omitempty"`
}

// FailedTimeout returns the watchdog duration. Negative values disable it.
func (i *Interaction) FailedTimeout() time.Duration {
	switch {
	case i.FailedTimeoutSec < 0:
		return 0
	case i.FailedTimeoutSec == 0:
		return DefaultInteractionFailedTimeout
	default:
		return time.Duration(i.FailedTimeoutSec * float64(time.Second))
	}
}

// Conversation is a named collection of interactions plus shared triggers.
type Conversation struct {
	ID                   string           `yaml:"id"                     json:"id"`
	Name                 string           `yaml:"name"                   json:"name"`
	Description          string           `yaml:"description"            json:"description,omitempty"`
	Interactions         []Interaction    `yaml:"interactions"           json:"interactions"`
	Animations           []string         `yaml:"animations"             json:"animations,omitempty"`
	SpeechHandlers       []string         `yaml:"speech_handlers"        json:"speech_handlers,omitempty"`
	Triggers             []TriggerMapping `yaml:"triggers"               json:"triggers,omitempty"`
	StartingEmotion      string           `yaml:"starting_emotion"       json:"starting_emotion,omitempty"`
	StartupInteraction   string           `yaml:"startup_interaction"    json:"startup_interaction,omitempty"`
	NoTriggerInteraction string           `yaml:"no_trigger_interaction" json:"no_trigger_interaction,omitempty"`
	Weight               int              `yaml:"weight"                 json:"weight,omitempty"`
	GoToConversation     string           `yaml:"go_to_conversation"     json:"go_to_conversation,omitempty"`
	GoToInteraction      string           `yaml:"go_to_interaction"      json:"go_to_interaction,omitempty"`
}

// ConversationGroup is the top-level authored unit loaded onto a robot.
type ConversationGroup struct {
	ID                  string           `yaml:"id"                   json:"id"`
	Name                string           `yaml:"name"                 json:"name"`
	Description         string           `yaml:"description"          json:"description,omitempty"`
	StartupConversation string           `yaml:"startup_conversation" json:"startup_conversation"`
	Conversations       []Conversation   `yaml:"conversations"        json:"conversations"`
	Triggers            []TriggerMapping `yaml:"triggers"             json:"triggers,omitempty"`
	Locale              string           `yaml:"locale"               json:"locale,omitempty"`
	DefaultEmotion      string           `yaml:"default_emotion"      json:"default_emotion,omitempty"`
}

// InitializationStatus reports how parameter loading went.
type InitializationStatus string

const (
	InitUnknown InitializationStatus = "Unknown"
	InitWaiting InitializationStatus = "Waiting"
	InitWarning InitializationStatus = "Warning"
	InitSuccess InitializationStatus = "Success"
	InitError   InitializationStatus = "Error"
)

// CharacterParameters is the runtime configuration handed to a session at
// initialization. The session treats it as read-only.
type CharacterParameters struct {
	Group              *ConversationGroup   `json:"group"`
	Locale             string               `json:"locale,omitempty"`
	DefaultEmotion     string               `json:"default_emotion,omitempty"`
	Status             InitializationStatus `json:"status"`
	StatusMessages     []string             `json:"status_messages,omitempty"`
	Debounce           DebouncePolicy       `json:"debounce,omitempty"`
	RandomSeed         uint64               `json:"random_seed,omitempty"`
	DefaultFailTimeout time.Duration        `json:"default_fail_timeout,omitempty"`
}

// DebouncePolicy configures the duplicate-suppression window per trigger.
type DebouncePolicy struct {
	Default    time.Duration             `json:"default,omitempty"`
	PerTrigger map[Trigger]time.Duration `json:"per_trigger,omitempty"`
}

// Window returns the debounce window for a trigger type.
func (p DebouncePolicy) Window(t Trigger) time.Duration {
	if d, ok := p.PerTrigger[t]; ok {
		return d
	}
	return p.Default
}
