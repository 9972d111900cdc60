package character

import (
	"context"
	"strconv"

	"github.com/voicetyped/conversation/pkg/events"
)

// Emitter is the part of events.Publisher the publishing capabilities need.
type Emitter interface {
	Emit(ctx context.Context, eventType events.EventType, sessionID string, data any) error
}

// Publishing implements every capability by emitting robot directives on
// the event bus. The robot collaborator subscribed to the bus performs the
// actuation.
type Publishing struct {
	pub       Emitter
	sessionID string
}

// NewPublishing creates capabilities bound to one robot session.
func NewPublishing(pub Emitter, sessionID string) *Publishing {
	return &Publishing{pub: pub, sessionID: sessionID}
}

// Capabilities returns p in every capability slot.
func (p *Publishing) Capabilities() Capabilities {
	return Capabilities{Speech: p, Animation: p, Display: p, Emotion: p, Skills: p}
}

func (p *Publishing) directive(ctx context.Context, name string, params map[string]string) error {
	return p.pub.Emit(ctx, events.RobotDirective, p.sessionID, &events.DirectiveData{
		Directive: name,
		Params:    params,
	})
}

func (p *Publishing) Speak(ctx context.Context, req SpeakRequest) error {
	params := map[string]string{"text": req.Text, "utterance_id": req.UtteranceID}
	if req.Interrupt {
		params["interrupt"] = "true"
	}
	if req.Locale != "" {
		params["locale"] = req.Locale
	}
	return p.directive(ctx, "speak", params)
}

func (p *Publishing) StopSpeaking(ctx context.Context) error {
	return p.directive(ctx, "stop_speaking", nil)
}

func (p *Publishing) StartListening(ctx context.Context, req ListenRequest) error {
	params := map[string]string{}
	if req.ListenTimeoutSec > 0 {
		params["listen_timeout_sec"] = strconv.Itoa(req.ListenTimeoutSec)
	}
	if req.SilenceTimeoutSec > 0 {
		params["silence_timeout_sec"] = strconv.Itoa(req.SilenceTimeoutSec)
	}
	if req.KeyPhraseRecognition {
		params["key_phrase"] = "true"
	}
	return p.directive(ctx, "start_listening", params)
}

func (p *Publishing) StopListening(ctx context.Context) error {
	return p.directive(ctx, "stop_listening", nil)
}

func (p *Publishing) PlayAnimation(ctx context.Context, id string) error {
	return p.directive(ctx, "play_animation", map[string]string{"animation_id": id})
}

func (p *Publishing) StopAnimation(ctx context.Context) error {
	return p.directive(ctx, "stop_animation", nil)
}

func (p *Publishing) DisplayText(ctx context.Context, text string) error {
	return p.directive(ctx, "display_text", map[string]string{"text": text})
}

func (p *Publishing) DisplayImage(ctx context.Context, image string) error {
	return p.directive(ctx, "display_image", map[string]string{"image": image})
}

func (p *Publishing) SetEmotion(ctx context.Context, emotion string) error {
	return p.directive(ctx, "set_emotion", map[string]string{"emotion": emotion})
}

func (p *Publishing) TriggerEvent(ctx context.Context, msg SkillMessage) error {
	if msg.SourceID == "" {
		msg.SourceID = p.sessionID
	}
	return p.pub.Emit(ctx, events.SkillEvent, p.sessionID, &events.SkillEventData{
		EventName: msg.EventName,
		SourceID:  msg.SourceID,
		Payload:   msg.Payload,
		TargetIDs: msg.TargetIDs,
	})
}
