package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scope names where a trigger set was declared.
type Scope string

const (
	ScopeInteraction  Scope = "interaction"
	ScopeConversation Scope = "conversation"
	ScopeGroup        Scope = "group"
)

// TriggerEntry is a compiled TriggerMapping. Order is the declaration
// index and breaks ties between equally specific entries.
type TriggerEntry struct {
	Detail  TriggerDetail
	Actions []TriggerActionOption
	Order   int
	Scope   Scope

	// TimerDelay is the parsed filter of a Timer trigger.
	TimerDelay time.Duration
}

// TriggerSet is the registry of trigger entries for one scope.
type TriggerSet struct {
	Owner   string
	Scope   Scope
	entries []TriggerEntry
}

type triggerKey struct {
	trigger     Trigger
	filter      string
	userDefined string
}

// CompileTriggers builds a TriggerSet from authored mappings. Problems are
// returned as ConfigurationErrors alongside a set that contains every
// usable entry; they are never fatal.
func CompileTriggers(scope Scope, owner string, mappings []TriggerMapping) (*TriggerSet, []error) {
	set := &TriggerSet{Owner: owner, Scope: scope}
	seen := make(map[triggerKey]bool, len(mappings))
	where := fmt.Sprintf("%s %q", scope, owner)

	var problems []error
	for i, m := range mappings {
		d := m.Detail
		if !d.Trigger.Valid() {
			problems = append(problems, &ConfigurationError{Scope: where, Detail: fmt.Sprintf("trigger %d: unknown trigger type %q", i, d.Trigger)})
			continue
		}
		if d.Trigger == TriggerNone {
			continue
		}

		key := triggerKey{
			trigger:     d.Trigger,
			filter:      normalizeFilter(d.TriggerFilter),
			userDefined: normalizeFilter(d.UserDefinedTriggerFilter),
		}
		if seen[key] {
			problems = append(problems, &ConfigurationError{Scope: where, Detail: fmt.Sprintf("trigger %d: duplicate %s", i, d.Label())})
			continue
		}

		entry := TriggerEntry{Detail: d, Order: i, Scope: scope}

		switch d.Trigger {
		case TriggerTimer:
			delay, err := parseTimerDelay(d.TriggerFilter)
			if err != nil {
				problems = append(problems, &ConfigurationError{Scope: where, Detail: fmt.Sprintf("trigger %d: timer filter %q", i, d.TriggerFilter), Err: err})
				continue
			}
			entry.TimerDelay = delay
		case TriggerExternalEvent:
			if key.filter == "" && key.userDefined == "" {
				problems = append(problems, &ConfigurationError{Scope: where, Detail: fmt.Sprintf("trigger %d: external event requires a filter", i)})
				continue
			}
		}

		for j, opt := range m.Actions {
			if !opt.hasAction() {
				problems = append(problems, &ConfigurationError{Scope: where, Detail: fmt.Sprintf("trigger %d action %d: no target", i, j)})
				continue
			}
			entry.Actions = append(entry.Actions, opt)
		}
		if len(entry.Actions) == 0 {
			problems = append(problems, &ConfigurationError{Scope: where, Detail: fmt.Sprintf("trigger %d: %s has no usable actions", i, d.Label())})
			continue
		}

		seen[key] = true
		set.entries = append(set.entries, entry)
	}
	return set, problems
}

// Entries returns the compiled entries in declaration order.
func (s *TriggerSet) Entries() []TriggerEntry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Len returns the number of usable entries.
func (s *TriggerSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Timers returns the Timer entries that must be scheduled on entry.
func (s *TriggerSet) Timers() []TriggerEntry {
	var out []TriggerEntry
	for _, e := range s.Entries() {
		if e.Detail.Trigger == TriggerTimer {
			out = append(out, e)
		}
	}
	return out
}

func parseTimerDelay(filter string) (time.Duration, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return 0, fmt.Errorf("timer delay is required")
	}
	if ms, err := strconv.Atoi(filter); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("timer delay must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(filter)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timer delay must be positive")
	}
	return d, nil
}

func normalizeFilter(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
