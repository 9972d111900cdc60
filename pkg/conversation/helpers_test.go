package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voicetyped/conversation/pkg/character"
	"github.com/voicetyped/conversation/pkg/events"
)

// fakeRobot records every capability call.
type fakeRobot struct {
	mu       sync.Mutex
	calls    []string
	speaks   []character.SpeakRequest
	panicOn  string
	emotions []string
}

func (r *fakeRobot) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *fakeRobot) count(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (r *fakeRobot) lastSpeak() (character.SpeakRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.speaks) == 0 {
		return character.SpeakRequest{}, false
	}
	return r.speaks[len(r.speaks)-1], true
}

func (r *fakeRobot) Speak(_ context.Context, req character.SpeakRequest) error {
	r.mu.Lock()
	r.speaks = append(r.speaks, req)
	r.mu.Unlock()
	r.add("speak")
	return nil
}
func (r *fakeRobot) StopSpeaking(context.Context) error { r.add("stop_speaking"); return nil }
func (r *fakeRobot) StartListening(context.Context, character.ListenRequest) error {
	r.add("start_listening")
	return nil
}
func (r *fakeRobot) StopListening(context.Context) error { r.add("stop_listening"); return nil }
func (r *fakeRobot) PlayAnimation(_ context.Context, id string) error {
	if r.panicOn != "" && id == r.panicOn {
		panic("animation " + id + " exploded")
	}
	r.add("play_animation:" + id)
	return nil
}
func (r *fakeRobot) StopAnimation(context.Context) error { r.add("stop_animation"); return nil }
func (r *fakeRobot) DisplayText(_ context.Context, text string) error {
	r.add("display_text:" + text)
	return nil
}
func (r *fakeRobot) DisplayImage(_ context.Context, img string) error {
	r.add("display_image:" + img)
	return nil
}
func (r *fakeRobot) SetEmotion(_ context.Context, e string) error {
	r.mu.Lock()
	r.emotions = append(r.emotions, e)
	r.mu.Unlock()
	return nil
}
func (r *fakeRobot) TriggerEvent(_ context.Context, msg character.SkillMessage) error {
	r.add("skill:" + msg.EventName)
	return nil
}

func (r *fakeRobot) capabilities() character.Capabilities {
	return character.Capabilities{Speech: r, Animation: r, Display: r, Emotion: r, Skills: r}
}

// captureEmitter records emitted event types.
type captureEmitter struct {
	mu    sync.Mutex
	types []events.EventType
	data  []any
}

func (e *captureEmitter) Emit(_ context.Context, et events.EventType, _ string, data any) error {
	e.mu.Lock()
	e.types = append(e.types, et)
	e.data = append(e.data, data)
	e.mu.Unlock()
	return nil
}

func (e *captureEmitter) count(et events.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.types {
		if t == et {
			n++
		}
	}
	return n
}

func mapping(trigger Trigger, filter string, actions ...TriggerActionOption) TriggerMapping {
	return TriggerMapping{Detail: TriggerDetail{Trigger: trigger, TriggerFilter: filter}, Actions: actions}
}

func goTo(interaction string) TriggerActionOption {
	return TriggerActionOption{GoToInteraction: interaction}
}

// testGroup is a two conversation group. Interaction "a" in c1 reacts to
// bumpers; the group sends unheard speech to c2.
func testGroup() *ConversationGroup {
	return &ConversationGroup{
		ID:                  "g1",
		StartupConversation: "c1",
		DefaultEmotion:      "Joy",
		Triggers: []TriggerMapping{
			mapping(TriggerSpeechHeard, FilterHeardNothing, TriggerActionOption{GoToConversation: "c2"}),
		},
		Conversations: []Conversation{
			{
				ID:                   "c1",
				Name:                 "Greeting",
				StartupInteraction:   "a",
				NoTriggerInteraction: "nt",
				Interactions: []Interaction{
					{
						ID:     "a",
						Name:   "Hello",
						Speech: "Hello {{.Variables.name}}",
						Triggers: []TriggerMapping{
							mapping(TriggerBumperPressed, "", goTo("w")),
							mapping(TriggerBumperPressed, "FrontRight", goTo("b")),
							mapping(TriggerAudioCompleted, "", goTo("spoke")),
						},
					},
					{ID: "b", Name: "Bumped", FailedTimeoutSec: -1},
					{ID: "w", Name: "Wild", FailedTimeoutSec: -1},
					{ID: "nt", Name: "Nothing", FailedTimeoutSec: -1},
					{ID: "spoke", Name: "Spoke", FailedTimeoutSec: -1},
				},
			},
			{
				ID:              "c2",
				Name:            "Farewell",
				StartingEmotion: "Sadness",
				Interactions: []Interaction{
					{ID: "bye", Name: "Bye", Speech: "Goodbye", FailedTimeoutSec: -1},
				},
			},
		},
	}
}

func newTestMachine(t *testing.T, g *ConversationGroup, opts ...Option) (*Machine, *fakeRobot, *captureEmitter) {
	t.Helper()
	robot := &fakeRobot{}
	em := &captureEmitter{}
	opts = append([]Option{WithCapabilities(robot.capabilities()), WithEmitter(em)}, opts...)
	m, err := NewMachine(t.Context(), "robot-1", CharacterParameters{Group: g, RandomSeed: 7}, opts...)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if err := m.Start(t.Context(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.cancelTimers)
	return m, robot, em
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
