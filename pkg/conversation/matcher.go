package conversation

import (
	"time"
)

// Specificity ranks. Higher wins.
const (
	rankNone        = 0
	rankWildcard    = 1
	rankFilter      = 2
	rankUserDefined = 3
)

const (
	historyPruneSize = 256
	historyMaxAge    = 10 * time.Minute
)

// Match is the outcome of matching an event against the trigger sets.
type Match struct {
	Entry TriggerEntry
	Rank  int
}

type firingKey struct {
	trigger Trigger
	filter  string
}

// Matcher finds the best trigger entry for an event. It keeps the firing
// history used to evaluate starting and stopping triggers, so a Matcher
// belongs to exactly one session and is not safe for concurrent use.
type Matcher struct {
	history map[firingKey]time.Time
}

// NewMatcher creates a matcher with an empty firing history.
func NewMatcher() *Matcher {
	return &Matcher{history: make(map[firingKey]time.Time)}
}

// Record notes that ev fired at its timestamp. Both the exact filter and
// the wildcard slot of the trigger are updated.
func (m *Matcher) Record(ev Event) {
	if ev.Trigger == "" {
		return
	}
	at := ev.Timestamp
	m.history[firingKey{trigger: ev.Trigger}] = at
	if f := normalizeFilter(ev.Filter); f != "" {
		m.history[firingKey{trigger: ev.Trigger, filter: f}] = at
	}
	if len(m.history) > historyPruneSize {
		for k, t := range m.history {
			if at.Sub(t) > historyMaxAge {
				delete(m.history, k)
			}
		}
	}
}

// Match checks the sets in order and returns the best entry of the first
// set that has one. Arming is judged against the history recorded so far,
// so callers Record ev after matching it. Within a set the most specific entry wins and equal
// specificity is resolved by declaration order.
func (m *Matcher) Match(ev Event, sets ...*TriggerSet) (Match, bool) {
	if !ev.Trigger.Valid() || ev.Trigger == TriggerNone {
		return Match{}, false
	}
	for _, set := range sets {
		if best, ok := m.best(set, ev); ok {
			return best, true
		}
	}
	return Match{}, false
}

func (m *Matcher) best(set *TriggerSet, ev Event) (Match, bool) {
	var (
		best Match
		hit  bool
	)
	for _, e := range set.Entries() {
		if e.Detail.Trigger != ev.Trigger {
			continue
		}
		r := rank(e.Detail, ev)
		if r == rankNone || (hit && r <= best.Rank) {
			continue
		}
		if !m.armed(e.Detail, ev.Timestamp) {
			continue
		}
		best, hit = Match{Entry: e, Rank: r}, true
		if r == rankUserDefined {
			break
		}
	}
	return best, hit
}

// rank scores how specifically d matches ev. A user-defined filter
// overrides the trigger filter: when one is set it must agree with the
// event text or filter.
func rank(d TriggerDetail, ev Event) int {
	filter := normalizeFilter(ev.Filter)
	if ud := normalizeFilter(d.UserDefinedTriggerFilter); ud != "" {
		if ud == normalizeFilter(ev.Text) || ud == filter {
			return rankUserDefined
		}
		return rankNone
	}
	if tf := normalizeFilter(d.TriggerFilter); tf != "" {
		if tf == filter {
			return rankFilter
		}
		return rankNone
	}
	return rankWildcard
}

func (m *Matcher) armed(d TriggerDetail, now time.Time) bool {
	var armedAt time.Time
	if d.StartingTrigger != "" && d.StartingTrigger != TriggerNone {
		at, ok := m.lastFired(d.StartingTrigger, d.StartingTriggerFilter)
		if !ok {
			return false
		}
		if d.StartingTriggerDelay > 0 && now.Sub(at) > time.Duration(d.StartingTriggerDelay)*time.Millisecond {
			return false
		}
		armedAt = at
	}
	if d.StoppingTrigger != "" && d.StoppingTrigger != TriggerNone {
		at, ok := m.lastFired(d.StoppingTrigger, d.StoppingTriggerFilter)
		if ok && !at.Before(armedAt) {
			if d.StoppingTriggerDelay <= 0 || now.Sub(at) <= time.Duration(d.StoppingTriggerDelay)*time.Millisecond {
				return false
			}
		}
	}
	return true
}

func (m *Matcher) lastFired(t Trigger, filter string) (time.Time, bool) {
	at, ok := m.history[firingKey{trigger: t, filter: normalizeFilter(filter)}]
	return at, ok
}
