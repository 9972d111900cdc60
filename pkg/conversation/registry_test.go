package conversation

import (
	"errors"
	"testing"
	"time"
)

func TestCompileTriggersSkipsBadEntries(t *testing.T) {
	mappings := []TriggerMapping{
		mapping(TriggerBumperPressed, "FrontRight", goTo("b")),
		mapping(TriggerBumperPressed, " frontright ", goTo("c")), // duplicate after normalization
		mapping(Trigger("Levitated"), "", goTo("x")),
		mapping(TriggerNone, "", TriggerActionOption{Stop: true}),
		mapping(TriggerTimer, "soon", goTo("x")),
		mapping(TriggerTimer, "-5", goTo("x")),
		mapping(TriggerTimer, "1500", goTo("t1")),
		mapping(TriggerTimer, "2s", goTo("t2")),
		mapping(TriggerExternalEvent, "", goTo("x")),
		mapping(TriggerCapTouched, "", TriggerActionOption{Weight: 3}),
		mapping(TriggerCapTouched, "Chin", TriggerActionOption{Weight: 3}, goTo("chin")),
	}

	set, problems := CompileTriggers(ScopeInteraction, "a", mappings)

	if got := set.Len(); got != 4 {
		t.Fatalf("entries = %d, want 4", got)
	}
	// The weight-only CapTouched mapping reports its option and then the
	// empty mapping.
	if len(problems) != 8 {
		t.Errorf("problems = %d, want 8: %v", len(problems), problems)
	}
	for _, p := range problems {
		var cfgErr *ConfigurationError
		if !errors.As(p, &cfgErr) {
			t.Errorf("problem %v is not a ConfigurationError", p)
		}
	}

	first := set.Entries()[0]
	if first.Actions[0].GoToInteraction != "b" {
		t.Errorf("first declaration not kept: %+v", first)
	}
	chin := set.Entries()[3]
	if len(chin.Actions) != 1 || chin.Actions[0].GoToInteraction != "chin" {
		t.Errorf("actionless option not dropped: %+v", chin.Actions)
	}

	timers := set.Timers()
	if len(timers) != 2 || timers[0].TimerDelay != 1500*time.Millisecond || timers[1].TimerDelay != 2*time.Second {
		t.Errorf("timers = %+v", timers)
	}
}

func TestCompileTriggersUserDefinedFilterIsPartOfKey(t *testing.T) {
	mappings := []TriggerMapping{
		{Detail: TriggerDetail{Trigger: TriggerSpeechHeard, UserDefinedTriggerFilter: "hello"}, Actions: []TriggerActionOption{goTo("x")}},
		{Detail: TriggerDetail{Trigger: TriggerSpeechHeard, UserDefinedTriggerFilter: "goodbye"}, Actions: []TriggerActionOption{goTo("y")}},
		{Detail: TriggerDetail{Trigger: TriggerExternalEvent, UserDefinedTriggerFilter: "door"}, Actions: []TriggerActionOption{goTo("z")}},
	}
	set, problems := CompileTriggers(ScopeConversation, "c1", mappings)
	if set.Len() != 3 || len(problems) != 0 {
		t.Errorf("entries = %d problems = %v", set.Len(), problems)
	}
}

func TestNilTriggerSet(t *testing.T) {
	var set *TriggerSet
	if set.Len() != 0 || set.Entries() != nil || set.Timers() != nil {
		t.Error("nil set should be empty")
	}
}
