package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/voicetyped/conversation/pkg/events"
)

func TestMachineStartEntersStartupInteraction(t *testing.T) {
	m, robot, em := newTestMachine(t, testGroup())

	if m.State() != StateActive {
		t.Fatalf("state = %q, want Active", m.State())
	}
	if got := m.Current(); got != (Target{ConversationID: "c1", InteractionID: "a"}) {
		t.Errorf("current = %+v", got)
	}
	if robot.count("speak") != 1 {
		t.Errorf("speak calls = %d, want 1", robot.count("speak"))
	}
	if len(robot.emotions) == 0 || robot.emotions[0] != "Joy" {
		t.Errorf("emotions = %v, want default Joy first", robot.emotions)
	}
	if em.count(events.SessionStarted) != 1 || em.count(events.InteractionEntered) != 1 {
		t.Errorf("events = %v", em.types)
	}
}

func TestMachineBumperFrontRightTransitionsAndCancelsTimeout(t *testing.T) {
	m, _, _ := newTestMachine(t, testGroup())

	if len(m.timers) != 1 {
		t.Fatalf("timers = %d, want the failure watchdog only", len(m.timers))
	}
	watchdog := m.timers[0]

	m.Handle(t.Context(), Event{Trigger: TriggerBumperPressed, Filter: "FrontRight"})

	if got := m.Current().InteractionID; got != "b" {
		t.Fatalf("interaction = %q, want b", got)
	}
	if watchdog.Stop() {
		t.Error("watchdog of a was still pending after leaving a")
	}
	if len(m.timers) != 0 {
		t.Errorf("timers = %d, want 0 for b", len(m.timers))
	}
}

func TestMachineExactFilterBeatsWildcard(t *testing.T) {
	tests := []struct {
		filter string
		want   string
	}{
		{filter: "FrontRight", want: "b"},
		{filter: "  frontright ", want: "b"},
		{filter: "BackLeft", want: "w"},
		{filter: "", want: "w"},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			m, _, _ := newTestMachine(t, testGroup())
			m.Handle(t.Context(), Event{Trigger: TriggerBumperPressed, Filter: tt.filter})
			if got := m.Current().InteractionID; got != tt.want {
				t.Errorf("interaction = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMachineGroupTriggerSwitchesConversation(t *testing.T) {
	m, robot, em := newTestMachine(t, testGroup())

	m.Handle(t.Context(), Event{Trigger: TriggerSpeechHeard, Filter: FilterHeardNothing})

	if got := m.Current(); got != (Target{ConversationID: "c2", InteractionID: "bye"}) {
		t.Fatalf("current = %+v, want c2/bye", got)
	}
	if em.count(events.ConversationStarted) != 2 {
		t.Errorf("conversation.started = %d, want 2", em.count(events.ConversationStarted))
	}
	if robot.emotions[len(robot.emotions)-1] != "Sadness" {
		t.Errorf("emotions = %v, want starting emotion of c2 last", robot.emotions)
	}
}

func TestMachineUnmatchedEventStays(t *testing.T) {
	m, _, _ := newTestMachine(t, testGroup())
	gen := m.generation

	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched, Filter: "Scruff"})
	m.Handle(t.Context(), Event{Trigger: Trigger("Teleported")})

	if m.Current().InteractionID != "a" || m.generation != gen {
		t.Errorf("current = %+v gen = %d, want a at %d", m.Current(), m.generation, gen)
	}
}

func TestMachineTimeout(t *testing.T) {
	t.Run("retrigger re-enters", func(t *testing.T) {
		g := testGroup()
		g.Conversations[0].Interactions[0].Retrigger = true
		m, robot, _ := newTestMachine(t, g)
		gen := m.generation

		m.Handle(t.Context(), Event{kind: kindTimeout, generation: gen})

		if m.Current().InteractionID != "a" || m.generation != gen+1 {
			t.Errorf("current = %+v gen = %d, want a re-entered", m.Current(), m.generation)
		}
		if robot.count("speak") != 2 {
			t.Errorf("speak = %d, want 2", robot.count("speak"))
		}
	})

	t.Run("timeout trigger", func(t *testing.T) {
		g := testGroup()
		a := &g.Conversations[0].Interactions[0]
		a.Triggers = append(a.Triggers, mapping(TriggerTimeout, "", goTo("b")))
		m, _, _ := newTestMachine(t, g)

		m.Handle(t.Context(), Event{kind: kindTimeout, generation: m.generation})

		if got := m.Current().InteractionID; got != "b" {
			t.Errorf("interaction = %q, want b", got)
		}
	})

	t.Run("no trigger interaction", func(t *testing.T) {
		m, _, _ := newTestMachine(t, testGroup())

		m.Handle(t.Context(), Event{kind: kindTimeout, generation: m.generation})

		if got := m.Current().InteractionID; got != "nt" {
			t.Errorf("interaction = %q, want nt", got)
		}
	})

	t.Run("stale timeout ignored", func(t *testing.T) {
		m, _, _ := newTestMachine(t, testGroup())

		m.Handle(t.Context(), Event{kind: kindTimeout, generation: m.generation - 1})

		if got := m.Current().InteractionID; got != "a" {
			t.Errorf("interaction = %q, want a", got)
		}
	})
}

func TestMachineStopIsIdempotent(t *testing.T) {
	m, robot, em := newTestMachine(t, testGroup())

	m.Stop(t.Context(), "test")
	m.Stop(t.Context(), "test")
	m.Handle(t.Context(), Event{Name: EventStopConversation, kind: kindControl})

	if m.State() != StateStopped {
		t.Fatalf("state = %q, want Stopped", m.State())
	}
	if em.count(events.ConversationStopped) != 1 {
		t.Errorf("conversation.stopped = %d, want 1", em.count(events.ConversationStopped))
	}
	if robot.count("stop_speaking") != 1 {
		t.Errorf("stop_speaking = %d, want 1", robot.count("stop_speaking"))
	}
	if m.interactionSet(t.Context()) != nil {
		t.Error("triggers still registered after stop")
	}

	m.Handle(t.Context(), Event{Trigger: TriggerBumperPressed, Filter: "FrontRight"})
	if m.State() != StateStopped {
		t.Error("stopped machine reacted to a trigger")
	}

	if err := m.Start(t.Context(), "c2"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := m.Current().InteractionID; got != "bye" {
		t.Errorf("interaction after restart = %q, want bye", got)
	}
}

func TestMachineLoadOtherConversationDoesNotInterrupt(t *testing.T) {
	m, robot, em := newTestMachine(t, testGroup())
	gen := m.generation

	c2 := testGroup().Conversations[1]
	c2.Interactions = append(c2.Interactions, Interaction{ID: "later", Name: "Later"})
	if err := m.Load(t.Context(), &c2); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Load(t.Context(), &Conversation{ID: "c3", Interactions: []Interaction{{ID: "c3-a"}}}); err != nil {
		t.Fatalf("Load new: %v", err)
	}

	if m.Current().InteractionID != "a" || m.generation != gen {
		t.Errorf("current = %+v gen %d, active interaction was interrupted", m.Current(), m.generation)
	}
	if robot.count("stop_speaking") != 0 || em.count(events.InteractionExited) != 0 {
		t.Error("load caused an exit")
	}
	if got := m.Snapshot().Conversations; len(got) != 3 {
		t.Errorf("conversations = %v, want 3", got)
	}
	if _, _, ok := m.resolver.Interaction(Target{ConversationID: "c2", InteractionID: "later"}); !ok {
		t.Error("loaded interaction not resolvable")
	}
}

func TestMachineLoadRunningConversation(t *testing.T) {
	t.Run("rebinds when current id survives", func(t *testing.T) {
		m, _, _ := newTestMachine(t, testGroup())
		gen := m.generation

		c1 := testGroup().Conversations[0]
		c1.Interactions[0].Triggers = []TriggerMapping{mapping(TriggerCapTouched, "", goTo("b"))}
		if err := m.Load(t.Context(), &c1); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if m.generation != gen {
			t.Fatal("rebind re-entered the interaction")
		}

		m.Handle(t.Context(), Event{Trigger: TriggerCapTouched})
		if got := m.Current().InteractionID; got != "b" {
			t.Errorf("interaction = %q, want b via the new trigger map", got)
		}
	})

	t.Run("enters startup when current id is gone", func(t *testing.T) {
		m, _, _ := newTestMachine(t, testGroup())

		c1 := Conversation{ID: "c1", StartupInteraction: "fresh", Interactions: []Interaction{{ID: "fresh"}}}
		if err := m.Load(t.Context(), &c1); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := m.Current().InteractionID; got != "fresh" {
			t.Errorf("interaction = %q, want fresh", got)
		}
	})

	t.Run("invalid load is rejected", func(t *testing.T) {
		m, _, _ := newTestMachine(t, testGroup())

		dup := Conversation{ID: "c9", Interactions: []Interaction{{ID: "a"}}}
		var cfgErr *ConfigurationError
		if err := m.Load(t.Context(), &dup); !errors.As(err, &cfgErr) {
			t.Fatalf("err = %v, want ConfigurationError", err)
		}
		if len(m.Snapshot().Conversations) != 2 {
			t.Error("rejected conversation was added")
		}
	})
}

func TestMachineRemove(t *testing.T) {
	m, _, em := newTestMachine(t, testGroup())

	m.Remove(t.Context(), "c2")
	if m.State() != StateActive || m.Current().InteractionID != "a" {
		t.Fatalf("removing another conversation disturbed the session: %+v", m.Snapshot())
	}
	m.Remove(t.Context(), "missing")

	m.Remove(t.Context(), "c1")
	if m.State() != StateStopped {
		t.Errorf("state = %q, want Stopped after removing the running conversation", m.State())
	}
	if em.count(events.ConversationRemoved) != 2 {
		t.Errorf("conversation.removed = %d, want 2", em.count(events.ConversationRemoved))
	}
}

func TestMachineResolutionFailureFallsBack(t *testing.T) {
	g := testGroup()
	a := &g.Conversations[0].Interactions[0]
	a.Triggers = append(a.Triggers, mapping(TriggerCapTouched, "", goTo("nowhere")))

	m, _, _ := newTestMachine(t, g)
	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched})
	if got := m.Current().InteractionID; got != "nt" {
		t.Errorf("interaction = %q, want the no-trigger interaction", got)
	}

	g = testGroup()
	g.Conversations[0].NoTriggerInteraction = ""
	a = &g.Conversations[0].Interactions[0]
	a.Triggers = append(a.Triggers, mapping(TriggerCapTouched, "", goTo("nowhere")))

	m, _, _ = newTestMachine(t, g)
	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched})
	if m.State() != StateActive || m.Current().InteractionID != "a" {
		t.Errorf("current = %+v, want to stay on a", m.Current())
	}
}

func TestMachineStopAndRetriggerActions(t *testing.T) {
	g := testGroup()
	a := &g.Conversations[0].Interactions[0]
	a.Triggers = append(a.Triggers,
		mapping(TriggerCapTouched, "Head", TriggerActionOption{Retrigger: true}),
		mapping(TriggerCapTouched, "Chin", TriggerActionOption{Stop: true}),
	)
	m, _, _ := newTestMachine(t, g)
	gen := m.generation

	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched, Filter: "Head"})
	if m.Current().InteractionID != "a" || m.generation != gen+1 {
		t.Errorf("retrigger: current = %+v gen = %d", m.Current(), m.generation)
	}

	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched, Filter: "Chin"})
	if m.State() != StateStopped {
		t.Errorf("state = %q, want Stopped", m.State())
	}
}

func TestMachineInterruptStopsSpeech(t *testing.T) {
	g := testGroup()
	a := &g.Conversations[0].Interactions[0]
	a.Triggers = append(a.Triggers,
		mapping(TriggerCapTouched, "", TriggerActionOption{GoToInteraction: "b", InterruptCurrentAction: true}))

	m, robot, _ := newTestMachine(t, g)
	m.Handle(t.Context(), Event{Trigger: TriggerBumperPressed, Filter: "FrontRight"})
	if robot.count("stop_speaking") != 0 {
		t.Error("plain transition interrupted speech")
	}

	m, robot, _ = newTestMachine(t, g)
	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched})
	if robot.count("stop_speaking") != 1 || robot.count("stop_animation") != 1 {
		t.Errorf("calls = %v, want speech and animation stopped", robot.calls)
	}
}

func TestMachineSpeechCompletion(t *testing.T) {
	m, robot, _ := newTestMachine(t, testGroup())
	speak, ok := robot.lastSpeak()
	if !ok {
		t.Fatal("no speech issued")
	}

	m.Handle(t.Context(), Event{UtteranceID: "old-utterance", kind: kindSpeechComplete})
	if m.Current().InteractionID != "a" {
		t.Fatal("stale utterance completion fired a trigger")
	}

	m.Handle(t.Context(), Event{UtteranceID: speak.UtteranceID, kind: kindSpeechComplete})
	if got := m.Current().InteractionID; got != "spoke" {
		t.Errorf("interaction = %q, want spoke", got)
	}
}

func TestMachineDebounce(t *testing.T) {
	g := testGroup()
	a := &g.Conversations[0].Interactions[0]
	a.Triggers = append(a.Triggers, mapping(TriggerCapTouched, "", TriggerActionOption{Retrigger: true}))

	robot := &fakeRobot{}
	params := CharacterParameters{
		Group:    g,
		Debounce: DebouncePolicy{PerTrigger: map[Trigger]time.Duration{TriggerCapTouched: time.Second}},
	}
	m, err := NewMachine(t.Context(), "robot-1", params, WithCapabilities(robot.capabilities()))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	t.Cleanup(m.cancelTimers)
	if err := m.Start(t.Context(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	gen := m.generation

	t0 := time.Now()
	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched, Timestamp: t0})
	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched, Timestamp: t0.Add(100 * time.Millisecond)})
	m.Handle(t.Context(), Event{Trigger: TriggerCapTouched, Timestamp: t0.Add(2 * time.Second)})

	if m.generation != gen+2 {
		t.Errorf("generation advanced by %d, want 2", m.generation-gen)
	}
}

func TestMachineStartingTriggerNeedsEarlierFiring(t *testing.T) {
	g := testGroup()
	a := &g.Conversations[0].Interactions[0]
	a.Triggers = append(a.Triggers, TriggerMapping{
		Detail: TriggerDetail{
			Trigger:                  TriggerSpeechHeard,
			UserDefinedTriggerFilter: "yes",
			StartingTrigger:          TriggerSpeechHeard,
			StartingTriggerDelay:     5000,
		},
		Actions: []TriggerActionOption{goTo("b")},
	})
	m, _, _ := newTestMachine(t, g)

	t0 := time.Now()
	m.Handle(t.Context(), Event{Trigger: TriggerSpeechHeard, Text: "yes", Timestamp: t0})
	if got := m.Current().InteractionID; got != "a" {
		t.Fatalf("interaction = %q, first yes armed its own starting trigger", got)
	}

	m.Handle(t.Context(), Event{Trigger: TriggerSpeechHeard, Text: "yes", Timestamp: t0.Add(time.Second)})
	if got := m.Current().InteractionID; got != "b" {
		t.Errorf("interaction = %q, want b on the second yes", got)
	}
}

func TestMachineTemplatedSpeech(t *testing.T) {
	m, robot, _ := newTestMachine(t, testGroup())

	m.variables["name"] = "Ada"
	if err := m.Start(t.Context(), "c1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	speak, _ := robot.lastSpeak()
	if speak.Text != "Hello Ada" {
		t.Errorf("text = %q, want %q", speak.Text, "Hello Ada")
	}
}

func TestMachineHistoryEviction(t *testing.T) {
	g := testGroup()
	a := &g.Conversations[0].Interactions[0]
	a.Triggers = append(a.Triggers, mapping(TriggerCapTouched, "", TriggerActionOption{Retrigger: true}))
	m, _, _ := newTestMachine(t, g, WithMaxHistory(10))

	for i := 0; i < 25; i++ {
		m.Handle(t.Context(), Event{Trigger: TriggerCapTouched})
	}
	hist := m.CopyHistory()
	if len(hist) > 10 {
		t.Errorf("history = %d, want at most 10", len(hist))
	}
	if last := hist[len(hist)-1]; last.ToInteraction != "a" || last.Trigger != string(TriggerCapTouched) {
		t.Errorf("last record = %+v", last)
	}
}

func TestNewMachineFatal(t *testing.T) {
	tests := []struct {
		name   string
		params CharacterParameters
	}{
		{name: "no group", params: CharacterParameters{}},
		{name: "error status", params: CharacterParameters{Group: testGroup(), Status: InitError, StatusMessages: []string{"no assets"}}},
		{name: "empty group", params: CharacterParameters{Group: &ConversationGroup{ID: "g"}}},
		{name: "no startup", params: CharacterParameters{Group: &ConversationGroup{ID: "g", Conversations: []Conversation{{ID: "c"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMachine(t.Context(), "r", tt.params)
			if !IsFatal(err) {
				t.Errorf("err = %v, want FatalInitializationError", err)
			}
		})
	}
}
