// Package character defines the capabilities a conversation session drives
// on a robot. Each capability is an independent strategy; a character is
// whatever set of them is composed into Capabilities.
//
// Capability methods start work and return promptly. Completion of long
// running work such as speech is reported back to the session, never
// awaited inline.
package character

import "context"

// SpeakRequest asks the robot to say something.
type SpeakRequest struct {
	Text        string `json:"text"`
	UtteranceID string `json:"utterance_id"`
	Interrupt   bool   `json:"interrupt"`
	Locale      string `json:"locale,omitempty"`
}

// ListenRequest asks the robot to capture speech.
type ListenRequest struct {
	ListenTimeoutSec     int  `json:"listen_timeout_sec,omitempty"`
	SilenceTimeoutSec    int  `json:"silence_timeout_sec,omitempty"`
	KeyPhraseRecognition bool `json:"key_phrase_recognition,omitempty"`
}

// SpeechManager controls text to speech and speech capture.
type SpeechManager interface {
	Speak(ctx context.Context, req SpeakRequest) error
	StopSpeaking(ctx context.Context) error
	StartListening(ctx context.Context, req ListenRequest) error
	StopListening(ctx context.Context) error
}

// AnimationManager plays and cancels animations.
type AnimationManager interface {
	PlayAnimation(ctx context.Context, id string) error
	StopAnimation(ctx context.Context) error
}

// DisplayManager shows text and images.
type DisplayManager interface {
	DisplayText(ctx context.Context, text string) error
	DisplayImage(ctx context.Context, image string) error
}

// EmotionManager sets the character's displayed emotion.
type EmotionManager interface {
	SetEmotion(ctx context.Context, emotion string) error
}

// SkillMessage is an event sent out to external skills.
type SkillMessage struct {
	EventName string            `json:"event_name"`
	SourceID  string            `json:"source_id"`
	Payload   map[string]string `json:"payload,omitempty"`
	TargetIDs []string          `json:"target_ids,omitempty"`
}

// SkillMessenger notifies external skills.
type SkillMessenger interface {
	TriggerEvent(ctx context.Context, msg SkillMessage) error
}

// Capabilities is the composed set of strategies driving one robot.
type Capabilities struct {
	Speech    SpeechManager
	Animation AnimationManager
	Display   DisplayManager
	Emotion   EmotionManager
	Skills    SkillMessenger
}

// WithDefaults returns a copy where every unset capability is a no-op.
func (c Capabilities) WithDefaults() Capabilities {
	if c.Speech == nil {
		c.Speech = Nop{}
	}
	if c.Animation == nil {
		c.Animation = Nop{}
	}
	if c.Display == nil {
		c.Display = Nop{}
	}
	if c.Emotion == nil {
		c.Emotion = Nop{}
	}
	if c.Skills == nil {
		c.Skills = Nop{}
	}
	return c
}

// Nop implements every capability and does nothing.
type Nop struct{}

func (Nop) Speak(context.Context, SpeakRequest) error { return nil }
func (Nop) StopSpeaking(context.Context) error { return nil }
func (Nop) StartListening(context.Context, ListenRequest) error { return nil }
func (Nop) StopListening(context.Context) error { return nil }
func (Nop) PlayAnimation(context.Context, string) error { return nil }
func (Nop) StopAnimation(context.Context) error { return nil }
func (Nop) DisplayText(context.Context, string) error { return nil }
func (Nop) DisplayImage(context.Context, string) error { return nil }
func (Nop) SetEmotion(context.Context, string) error { return nil }
func (Nop) TriggerEvent(context.Context, SkillMessage) error { return nil }
