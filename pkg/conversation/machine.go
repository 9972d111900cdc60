package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/voicetyped/conversation/pkg/character"
	"github.com/voicetyped/conversation/pkg/commands"
	"github.com/voicetyped/conversation/pkg/events"
)

// State is the lifecycle state of a Machine.
type State string

const (
	StateIdle          State = "Idle"
	StateActive        State = "Active"
	StateTransitioning State = "Transitioning"
	StateStopped       State = "Stopped"
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	SessionID      string            `json:"session_id"`
	GroupID        string            `json:"group_id"`
	State          State             `json:"state"`
	ConversationID string            `json:"conversation_id,omitempty"`
	InteractionID  string            `json:"interaction_id,omitempty"`
	Generation     uint64            `json:"generation"`
	Conversations  []string          `json:"conversations"`
	Variables      map[string]string `json:"variables,omitempty"`
	QueueDepth     int               `json:"queue_depth"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Machine is the interaction state machine of one session. It owns the
// current interaction pointer, the compiled trigger sets and every timer
// handle. All methods except CopyHistory must be called from a single
// goroutine; Session provides that goroutine.
type Machine struct {
	id     string
	params CharacterParameters
	caps   character.Capabilities

	commands CommandRunner
	pool     TaskRunner
	emitter  Emitter
	recorder TransitionRecorder
	post     func(Event) bool

	resolver *Resolver
	matcher  *Matcher
	selector *Selector
	groupSet *TriggerSet
	sets     map[string]*TriggerSet

	state       State
	current     Target
	conv        *Conversation
	interaction *Interaction
	generation  uint64
	utterance   string
	timers      []*time.Timer
	debounce    map[firingKey]time.Time
	variables   map[string]string

	histMu     sync.RWMutex
	history    []TransitionRecord
	maxHistory int
}

// NewMachine builds an idle machine for params. It fails with a
// FatalInitializationError when the parameters cannot run a conversation.
func NewMachine(ctx context.Context, sessionID string, params CharacterParameters, opts ...Option) (*Machine, error) {
	cfg := settings{maxHistory: DefaultMaxHistory}
	for _, opt := range opts {
		opt(&cfg)
	}

	if params.Status == InitError {
		return nil, &FatalInitializationError{Reason: fmt.Sprintf("parameters reported error: %v", params.StatusMessages)}
	}
	if params.Group == nil {
		return nil, &FatalInitializationError{Reason: "no conversation group supplied"}
	}
	if err := Validate(params.Group); err != nil {
		return nil, &FatalInitializationError{Reason: "invalid conversation group", Err: err}
	}
	for _, msg := range params.StatusMessages {
		slog.WarnContext(ctx, "character parameters", slog.String("session_id", sessionID), slog.String("message", msg))
	}

	post := cfg.post
	if post == nil {
		post = func(Event) bool { return false }
	}

	selector := NewSelector(params.RandomSeed)
	m := &Machine{
		id:         sessionID,
		params:     params,
		caps:       cfg.caps.WithDefaults(),
		commands:   cfg.commands,
		pool:       cfg.pool,
		emitter:    cfg.emitter,
		recorder:   cfg.recorder,
		post:       post,
		resolver:   NewResolver(params.Group).WithPicker(selector.Pick),
		matcher:    NewMatcher(),
		selector:   selector,
		sets:       make(map[string]*TriggerSet),
		state:      StateIdle,
		debounce:   make(map[firingKey]time.Time),
		variables:  make(map[string]string),
		maxHistory: cfg.maxHistory,
	}
	m.groupSet = m.compile(ctx, ScopeGroup, params.Group.ID, params.Group.Triggers)
	return m, nil
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Current returns the current interaction target. It is empty unless the
// machine is Active.
func (m *Machine) Current() Target { return m.current }

// Snapshot returns a view of the machine.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		SessionID:      m.id,
		GroupID:        m.resolver.Group().ID,
		State:          m.state,
		ConversationID: m.current.ConversationID,
		InteractionID:  m.current.InteractionID,
		Generation:     m.generation,
		Conversations:  m.resolver.ConversationIDs(),
		Variables:      maps.Clone(m.variables),
		UpdatedAt:      time.Now().UTC(),
	}
}

// Handle processes one event to completion.
func (m *Machine) Handle(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch ev.kind {
	case kindControl:
		m.handleControl(ctx, ev)
	case kindTimeout:
		if m.stale(ev) {
			metricStaleEvents.WithLabelValues("timeout").Inc()
			return
		}
		m.onTimeout(ctx, ev)
	case kindTimer:
		if m.stale(ev) {
			metricStaleEvents.WithLabelValues("timer").Inc()
			return
		}
		m.onTrigger(ctx, ev)
	case kindSpeechComplete:
		if m.state != StateActive || ev.UtteranceID == "" || ev.UtteranceID != m.utterance {
			metricStaleEvents.WithLabelValues("speech").Inc()
			return
		}
		m.utterance = ""
		ev.Trigger = TriggerAudioCompleted
		m.onTrigger(ctx, ev)
	case kindCommandComplete:
		m.onCommandComplete(ctx, ev)
	default:
		if ev.IsControl() {
			m.handleControl(ctx, ev)
			return
		}
		if m.state != StateActive {
			slog.DebugContext(ctx, "event ignored: no active interaction",
				slog.String("session_id", m.id), slog.String("event", ev.Label()), slog.String("state", string(m.state)))
			return
		}
		if m.debounced(ev) {
			metricEventsDebounced.Inc()
			return
		}
		m.onTrigger(ctx, ev)
	}
}

func (m *Machine) handleControl(ctx context.Context, ev Event) {
	switch ev.Name {
	case EventStartConversation:
		ref := ev.ConversationID
		if ref == "" && ev.Conversation != nil {
			ref = ev.Conversation.ID
		}
		for k, v := range ev.Payload {
			m.variables[k] = v
		}
		if err := m.Start(ctx, ref); err != nil {
			slog.ErrorContext(ctx, "start conversation failed",
				slog.String("session_id", m.id), slog.String("conversation", ref), slog.String("error", err.Error()))
			m.emit(ctx, events.SystemError, &events.ErrorData{Kind: "start", Message: err.Error()})
		}
	case EventStopConversation:
		m.Stop(ctx, "requested")
	case EventLoadConversation:
		if err := m.Load(ctx, ev.Conversation); err != nil {
			slog.WarnContext(ctx, "load conversation rejected", slog.String("session_id", m.id), slog.String("error", err.Error()))
			m.emit(ctx, events.SystemError, &events.ErrorData{Kind: "load", Message: err.Error()})
		}
	case EventRemoveConversation:
		ref := ev.ConversationID
		if ref == "" && ev.Conversation != nil {
			ref = ev.Conversation.ID
		}
		m.Remove(ctx, ref)
	}
}

// Start enters the entry interaction of conversation ref, or the group's
// startup interaction when ref is empty. Starting while Active switches
// conversations.
func (m *Machine) Start(ctx context.Context, ref string) error {
	var (
		target Target
		err    error
	)
	if ref == "" {
		target, err = m.resolver.StartupTarget()
	} else {
		target, err = m.resolver.ResolveConversation(ref)
	}
	if err != nil {
		return err
	}

	fresh := m.state == StateIdle || m.state == StateStopped
	if fresh {
		emotion := firstNonEmpty(m.params.DefaultEmotion, m.resolver.Group().DefaultEmotion)
		if emotion != "" {
			m.capErr(ctx, "set_emotion", m.caps.Emotion.SetEmotion(ctx, emotion))
		}
		m.emit(ctx, events.SessionStarted, &events.ConversationData{GroupID: m.resolver.Group().ID, ConversationID: target.ConversationID})
	}
	return m.transition(ctx, target, EventStartConversation, !fresh)
}

// Stop leaves the current interaction and unregisters every trigger. It is
// a no-op unless the machine is Active.
func (m *Machine) Stop(ctx context.Context, reason string) {
	if m.state != StateActive && m.state != StateTransitioning {
		return
	}
	from := m.current
	m.exit(ctx, true)
	m.capErr(ctx, "stop_listening", m.caps.Speech.StopListening(ctx))

	m.record(ctx, from, Target{}, EventStopConversation)
	m.emit(ctx, events.ConversationStopped, &events.ConversationData{
		GroupID:        m.resolver.Group().ID,
		ConversationID: from.ConversationID,
		Reason:         reason,
	})

	m.state = StateStopped
	m.current = Target{}
	m.conv = nil
	m.interaction = nil
	slog.InfoContext(ctx, "conversation stopped",
		slog.String("session_id", m.id), slog.String("conversation", from.ConversationID), slog.String("reason", reason))
}

// Load adds or replaces a conversation. When it replaces the running
// conversation the current interaction is rebound to the new definition
// if its id still exists, and its timers are re-armed from that
// definition; otherwise the new entry interaction is entered.
func (m *Machine) Load(ctx context.Context, c *Conversation) error {
	if c == nil {
		return &ConfigurationError{Scope: "LoadConversation", Detail: "no conversation supplied"}
	}
	next := m.resolver.WithConversation(*c)
	if err := Validate(next.Group()); err != nil {
		return &ConfigurationError{Scope: fmt.Sprintf("conversation %q", c.ID), Detail: "load rejected", Err: err}
	}
	for _, p := range lintConversation(c) {
		slog.WarnContext(ctx, "conversation trigger problem", slog.String("session_id", m.id), slog.String("error", p.Error()))
	}

	m.resolver = next
	clear(m.sets)
	m.emit(ctx, events.ConversationLoaded, &events.ConversationData{GroupID: next.Group().ID, ConversationID: c.ID})

	if m.state != StateActive || m.current.ConversationID != c.ID {
		return nil
	}

	if conv, in, ok := m.resolver.Interaction(m.current); ok {
		m.conv, m.interaction = conv, in
		m.cancelTimers()
		m.schedule(ctx, in, m.generation)
		return nil
	}
	target, err := m.resolver.ResolveConversation(c.ID)
	if err != nil {
		m.Stop(ctx, "reloaded conversation has no entry interaction")
		return err
	}
	return m.transition(ctx, target, EventLoadConversation, true)
}

// Remove drops a conversation from the group. Removing the running
// conversation stops the session first.
func (m *Machine) Remove(ctx context.Context, id string) {
	next, ok := m.resolver.WithoutConversation(id)
	if !ok {
		slog.DebugContext(ctx, "remove conversation: unknown id", slog.String("session_id", m.id), slog.String("conversation", id))
		return
	}
	if m.state == StateActive && m.current.ConversationID == id {
		m.Stop(ctx, "conversation removed")
	}
	m.resolver = next
	clear(m.sets)
	m.emit(ctx, events.ConversationRemoved, &events.ConversationData{GroupID: next.Group().ID, ConversationID: id})
}

// CopyHistory returns a snapshot of the transition history. It is safe to
// call from any goroutine.
func (m *Machine) CopyHistory() []TransitionRecord {
	m.histMu.RLock()
	defer m.histMu.RUnlock()
	cp := make([]TransitionRecord, len(m.history))
	copy(cp, m.history)
	return cp
}

func (m *Machine) onTrigger(ctx context.Context, ev Event) {
	if ev.Text != "" {
		m.variables["last_heard"] = ev.Text
	}
	for k, v := range ev.Payload {
		m.variables[k] = v
	}

	// Recorded after matching: an event never arms its own starting trigger.
	match, ok := m.matcher.Match(ev, m.interactionSet(ctx), m.conversationSet(ctx), m.groupSet)
	m.matcher.Record(ev)
	if !ok {
		slog.DebugContext(ctx, "no trigger matched", slog.String("session_id", m.id), slog.String("event", ev.Label()))
		return
	}
	m.fire(ctx, match, ev.Label())
}

func (m *Machine) fire(ctx context.Context, match Match, cause string) {
	opt, _ := m.selector.PickOption(match.Entry.Actions)
	from := m.state

	err := m.apply(ctx, opt, cause)

	m.emit(ctx, events.TriggerMatched, &events.TriggerMatchedData{
		Trigger:     string(match.Entry.Detail.Trigger),
		Filter:      firstNonEmpty(match.Entry.Detail.UserDefinedTriggerFilter, match.Entry.Detail.TriggerFilter),
		Scope:       string(match.Entry.Scope),
		Owner:       m.ownerOf(match.Entry.Scope),
		FromState:   string(from),
		ToState:     string(m.state),
		OptionCount: len(match.Entry.Actions),
	})
	if err != nil {
		slog.WarnContext(ctx, "trigger action failed",
			slog.String("session_id", m.id), slog.String("trigger", match.Entry.Detail.Label()), slog.String("error", err.Error()))
	}
}

// apply executes one action option. Order of precedence: stop, retrigger,
// goto conversation, goto interaction.
func (m *Machine) apply(ctx context.Context, opt TriggerActionOption, cause string) error {
	switch {
	case opt.Stop:
		m.Stop(ctx, cause)
		return nil
	case opt.Retrigger:
		return m.transition(ctx, m.current, cause, opt.InterruptCurrentAction)
	}

	var (
		target Target
		err    error
	)
	switch {
	case opt.GoToConversation != "" && opt.GoToInteraction != "":
		target, err = m.resolver.ResolveIn(opt.GoToConversation, opt.GoToInteraction)
	case opt.GoToConversation != "":
		target, err = m.resolver.ResolveConversation(opt.GoToConversation)
	default:
		target, err = m.resolver.ResolveGoTo(m.current.ConversationID, opt.GoToInteraction)
	}
	if err != nil {
		return m.fallback(ctx, cause, &ConfigurationError{Scope: fmt.Sprintf("interaction %q", m.current.InteractionID), Detail: "goto target", Err: err})
	}
	return m.transition(ctx, target, cause, opt.InterruptCurrentAction)
}

// fallback moves to the conversation's NoTriggerInteraction after a
// resolution failure, or stays on the current interaction.
func (m *Machine) fallback(ctx context.Context, cause string, reason error) error {
	if m.conv == nil || m.conv.NoTriggerInteraction == "" {
		return reason
	}
	target, err := m.resolver.ResolveGoTo(m.conv.ID, m.conv.NoTriggerInteraction)
	if err != nil {
		return errors.Join(reason, err)
	}
	if err := m.transition(ctx, target, cause, false); err != nil {
		return errors.Join(reason, err)
	}
	return reason
}

func (m *Machine) onTimeout(ctx context.Context, ev Event) {
	in := m.interaction
	cause := string(TriggerTimeout)

	if in.Retrigger {
		if err := m.transition(ctx, m.current, cause, in.InterruptCurrentAction); err != nil {
			slog.WarnContext(ctx, "retrigger failed", slog.String("session_id", m.id), slog.String("error", err.Error()))
		}
		return
	}

	ev.Trigger = TriggerTimeout
	match, ok := m.matcher.Match(ev, m.interactionSet(ctx), m.conversationSet(ctx), m.groupSet)
	m.matcher.Record(ev)
	if ok {
		m.fire(ctx, match, cause)
		return
	}

	if m.conv != nil && m.conv.NoTriggerInteraction != "" {
		target, err := m.resolver.ResolveGoTo(m.conv.ID, m.conv.NoTriggerInteraction)
		if err == nil {
			err = m.transition(ctx, target, cause, false)
		}
		if err != nil {
			slog.WarnContext(ctx, "no-trigger interaction unavailable", slog.String("session_id", m.id), slog.String("error", err.Error()))
		}
		return
	}
	slog.InfoContext(ctx, "interaction timed out with nowhere to go",
		slog.String("session_id", m.id), slog.String("interaction", m.current.InteractionID))
}

func (m *Machine) onCommandComplete(ctx context.Context, ev Event) {
	out := ev.outcome
	if out == nil {
		return
	}
	if m.stale(ev) {
		metricStaleEvents.WithLabelValues("command").Inc()
		m.emit(ctx, events.CommandCompleted, &events.CommandData{Command: out.name, InteractionID: out.interaction, Stale: true})
		return
	}
	if out.err != nil {
		metricCommandFailures.WithLabelValues(out.name).Inc()
		slog.WarnContext(ctx, "command failed",
			slog.String("session_id", m.id), slog.String("command", out.name), slog.String("error", out.err.Error()))
		m.emit(ctx, events.CommandFailed, &events.CommandData{Command: out.name, InteractionID: out.interaction, Error: out.err.Error()})
		return
	}

	text := ""
	if out.response != nil {
		text = out.response.Text
		for k, v := range out.response.Variables {
			m.variables[k] = v
		}
	}
	m.emit(ctx, events.CommandCompleted, &events.CommandData{Command: out.name, InteractionID: out.interaction})
	m.onTrigger(ctx, Event{Trigger: TriggerExternalEvent, Filter: out.name, Text: text, Timestamp: ev.Timestamp})
}

// transition leaves the current interaction and enters target.
func (m *Machine) transition(ctx context.Context, target Target, cause string, interrupt bool) error {
	conv, in, ok := m.resolver.Interaction(target)
	if !ok {
		return &ResolutionError{Kind: ResolutionNotFound, Target: target.ConversationID + "/" + target.InteractionID}
	}

	from := m.current
	m.state = StateTransitioning
	if m.interaction != nil {
		m.exit(ctx, interrupt || in.InterruptCurrentAction)
	}
	m.record(ctx, from, target, cause)
	m.enter(ctx, conv, in, target)
	m.state = StateActive
	metricTransitions.WithLabelValues(cause).Inc()
	return nil
}

// exit runs the exit hook of the current interaction: timers are always
// cancelled, in-flight speech and animation only when interrupting.
func (m *Machine) exit(ctx context.Context, interrupt bool) {
	m.cancelTimers()
	m.utterance = ""
	if interrupt {
		m.capErr(ctx, "stop_speaking", m.caps.Speech.StopSpeaking(ctx))
		m.capErr(ctx, "stop_animation", m.caps.Animation.StopAnimation(ctx))
	}
	if m.interaction != nil {
		m.emit(ctx, events.InteractionExited, &events.InteractionData{
			ConversationID: m.current.ConversationID,
			InteractionID:  m.current.InteractionID,
			Interrupted:    interrupt,
		})
	}
}

// enter runs the entry hook of in. The pointers are swapped and the
// timers armed before any side effect is issued, so a failing capability
// cannot leave the interaction without its watchdog.
func (m *Machine) enter(ctx context.Context, conv *Conversation, in *Interaction, target Target) {
	m.generation++
	gen := m.generation
	switched := m.conv == nil || m.conv.ID != conv.ID
	m.conv, m.interaction, m.current = conv, in, target
	m.schedule(ctx, in, gen)

	if switched {
		m.emit(ctx, events.ConversationStarted, &events.ConversationData{GroupID: m.resolver.Group().ID, ConversationID: conv.ID})
		if conv.StartingEmotion != "" {
			m.capErr(ctx, "set_emotion", m.caps.Emotion.SetEmotion(ctx, conv.StartingEmotion))
		}
	}
	m.emit(ctx, events.InteractionEntered, &events.InteractionData{ConversationID: conv.ID, InteractionID: in.ID})

	m.perform(ctx, in)
	for _, inv := range in.Commands {
		m.runCommand(ctx, inv, gen)
	}
}

func (m *Machine) perform(ctx context.Context, in *Interaction) {
	data := speechCtx{
		SessionID:    m.id,
		Conversation: m.current.ConversationID,
		Interaction:  in.ID,
		Text:         m.variables["last_heard"],
		Variables:    m.variables,
	}
	locale := firstNonEmpty(m.params.Locale, m.resolver.Group().Locale)

	if in.UsePreSpeech && len(in.PreSpeechPhrases) > 0 {
		if in.PreSpeechAnimation != "" {
			m.capErr(ctx, "play_animation", m.caps.Animation.PlayAnimation(ctx, in.PreSpeechAnimation))
		}
		phrase := m.renderOrRaw(ctx, m.selector.PickPhrase(in.PreSpeechPhrases), data)
		m.capErr(ctx, "speak", m.caps.Speech.Speak(ctx, character.SpeakRequest{
			Text:        phrase,
			UtteranceID: xid.New().String(),
			Interrupt:   in.InterruptCurrentAction,
			Locale:      locale,
		}))
	}
	if in.Animation != "" {
		m.capErr(ctx, "play_animation", m.caps.Animation.PlayAnimation(ctx, in.Animation))
	}
	if in.Speech != "" {
		m.utterance = xid.New().String()
		m.capErr(ctx, "speak", m.caps.Speech.Speak(ctx, character.SpeakRequest{
			Text:        m.renderOrRaw(ctx, in.Speech, data),
			UtteranceID: m.utterance,
			Interrupt:   in.InterruptCurrentAction,
			Locale:      locale,
		}))
	}
	if in.DisplayText != "" {
		m.capErr(ctx, "display_text", m.caps.Display.DisplayText(ctx, m.renderOrRaw(ctx, in.DisplayText, data)))
	}
	if in.DisplayImage != "" {
		m.capErr(ctx, "display_image", m.caps.Display.DisplayImage(ctx, in.DisplayImage))
	}
	if in.StartListening {
		m.capErr(ctx, "start_listening", m.caps.Speech.StartListening(ctx, character.ListenRequest{
			ListenTimeoutSec:     in.ListenTimeoutSec,
			SilenceTimeoutSec:    in.SilenceTimeoutSec,
			KeyPhraseRecognition: in.AllowKeyPhraseRecognition,
		}))
	}
	for _, sm := range in.SkillMessages {
		m.capErr(ctx, "trigger_event", m.caps.Skills.TriggerEvent(ctx, character.SkillMessage{
			EventName: sm.EventName,
			SourceID:  in.ID,
			Payload:   sm.Payload,
			TargetIDs: sm.TargetIDs,
		}))
	}
}

func (m *Machine) runCommand(ctx context.Context, inv CommandInvocation, gen uint64) {
	interactionID := m.current.InteractionID
	if m.commands == nil {
		metricCommandFailures.WithLabelValues(inv.Name).Inc()
		slog.WarnContext(ctx, "command skipped: no command runner", slog.String("session_id", m.id), slog.String("command", inv.Name))
		return
	}

	data := speechCtx{SessionID: m.id, Conversation: m.current.ConversationID, Interaction: interactionID, Variables: m.variables}
	params := make(map[string]string, len(inv.Params))
	for k, v := range inv.Params {
		params[k] = m.renderOrRaw(ctx, v, data)
	}
	req := commands.Request{
		SessionID:     m.id,
		Conversation:  m.current.ConversationID,
		InteractionID: interactionID,
		Params:        params,
		Variables:     maps.Clone(m.variables),
	}

	runner, post := m.commands, m.post
	m.spawn(ctx, func() {
		resp, err := runner.Run(ctx, inv.Name, req)
		post(Event{
			Trigger:    TriggerExternalEvent,
			Filter:     inv.Name,
			Timestamp:  time.Now(),
			kind:       kindCommandComplete,
			generation: gen,
			outcome:    &commandOutcome{name: inv.Name, interaction: interactionID, response: resp, err: err},
		})
	})
}

// schedule arms the failure watchdog and every Timer trigger visible from in.
func (m *Machine) schedule(ctx context.Context, in *Interaction, gen uint64) {
	d := in.FailedTimeout()
	if in.FailedTimeoutSec == 0 && m.params.DefaultFailTimeout > 0 {
		d = m.params.DefaultFailTimeout
	}
	post := m.post
	if d > 0 {
		m.timers = append(m.timers, time.AfterFunc(d, func() {
			post(Event{Trigger: TriggerTimeout, Timestamp: time.Now(), kind: kindTimeout, generation: gen})
		}))
	}

	for _, set := range []*TriggerSet{m.interactionSet(ctx), m.conversationSet(ctx), m.groupSet} {
		for _, e := range set.Timers() {
			filter := e.Detail.TriggerFilter
			m.timers = append(m.timers, time.AfterFunc(e.TimerDelay, func() {
				post(Event{Trigger: TriggerTimer, Filter: filter, Timestamp: time.Now(), kind: kindTimer, generation: gen})
			}))
		}
	}
}

// settle restores a consistent state after a failed event. The pointers
// are assigned together in enter, so they are either all old or all new.
// An interaction left without timers, because the failure hit exit after
// they were cancelled, gets them back.
func (m *Machine) settle(ctx context.Context) {
	switch m.state {
	case StateTransitioning:
		if m.interaction == nil {
			m.state = StateIdle
			return
		}
		m.state = StateActive
	case StateActive:
	default:
		return
	}
	if len(m.timers) == 0 {
		m.schedule(ctx, m.interaction, m.generation)
	}
}

func (m *Machine) cancelTimers() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

func (m *Machine) stale(ev Event) bool {
	return m.state != StateActive || ev.generation != m.generation
}

func (m *Machine) debounced(ev Event) bool {
	window := m.params.Debounce.Window(ev.Trigger)
	if window <= 0 {
		return false
	}
	key := firingKey{trigger: ev.Trigger, filter: normalizeFilter(ev.Filter)}
	if last, ok := m.debounce[key]; ok && ev.Timestamp.Sub(last) < window {
		return true
	}
	m.debounce[key] = ev.Timestamp
	return false
}

func (m *Machine) interactionSet(ctx context.Context) *TriggerSet {
	if m.interaction == nil {
		return nil
	}
	key := "i:" + m.interaction.ID
	if s, ok := m.sets[key]; ok {
		return s
	}
	s := m.compile(ctx, ScopeInteraction, m.interaction.ID, m.interaction.Triggers)
	m.sets[key] = s
	return s
}

func (m *Machine) conversationSet(ctx context.Context) *TriggerSet {
	if m.conv == nil {
		return nil
	}
	key := "c:" + m.conv.ID
	if s, ok := m.sets[key]; ok {
		return s
	}
	s := m.compile(ctx, ScopeConversation, m.conv.ID, m.conv.Triggers)
	m.sets[key] = s
	return s
}

func (m *Machine) compile(ctx context.Context, scope Scope, owner string, mappings []TriggerMapping) *TriggerSet {
	set, problems := CompileTriggers(scope, owner, mappings)
	for _, p := range problems {
		slog.WarnContext(ctx, "trigger skipped", slog.String("session_id", m.id), slog.String("error", p.Error()))
	}
	return set
}

func (m *Machine) ownerOf(s Scope) string {
	switch s {
	case ScopeInteraction:
		return m.current.InteractionID
	case ScopeConversation:
		return m.current.ConversationID
	default:
		return m.resolver.Group().ID
	}
}

// record appends to the in-memory history, evicting the oldest 10% at the
// cap, and hands the record to the recorder.
func (m *Machine) record(ctx context.Context, from, to Target, trigger string) {
	rec := TransitionRecord{
		SessionID:        m.id,
		FromConversation: from.ConversationID,
		FromInteraction:  from.InteractionID,
		ToConversation:   to.ConversationID,
		ToInteraction:    to.InteractionID,
		Trigger:          trigger,
		Timestamp:        time.Now().UTC(),
	}

	m.histMu.Lock()
	if len(m.history) >= m.maxHistory {
		evict := max(m.maxHistory/10, 1)
		m.history = m.history[evict:]
	}
	m.history = append(m.history, rec)
	m.histMu.Unlock()

	if m.recorder != nil {
		recorder := m.recorder
		m.spawn(ctx, func() {
			if err := recorder.RecordTransition(ctx, rec); err != nil {
				slog.WarnContext(ctx, "record transition failed", slog.String("session_id", rec.SessionID), slog.String("error", err.Error()))
			}
		})
	}
}

func (m *Machine) spawn(ctx context.Context, fn func()) {
	if m.pool == nil {
		go fn()
		return
	}
	if err := m.pool.Submit(ctx, fn); err != nil {
		slog.WarnContext(ctx, "worker pool rejected task, running inline goroutine", slog.String("error", err.Error()))
		go fn()
	}
}

func (m *Machine) emit(ctx context.Context, et events.EventType, data any) {
	if m.emitter == nil {
		return
	}
	if err := m.emitter.Emit(ctx, et, m.id, data); err != nil {
		slog.WarnContext(ctx, "emit failed", slog.String("event_type", string(et)), slog.String("error", err.Error()))
	}
}

func (m *Machine) capErr(ctx context.Context, op string, err error) {
	if err != nil {
		slog.WarnContext(ctx, "capability call failed",
			slog.String("session_id", m.id), slog.String("op", op), slog.String("error", err.Error()))
	}
}

func (m *Machine) renderOrRaw(ctx context.Context, text string, data speechCtx) string {
	out, err := render(text, data)
	if err != nil {
		slog.WarnContext(ctx, "template render failed", slog.String("session_id", m.id), slog.String("error", err.Error()))
		return text
	}
	return out
}

func lintConversation(c *Conversation) []error {
	_, problems := CompileTriggers(ScopeConversation, c.ID, c.Triggers)
	for _, in := range c.Interactions {
		_, errs := CompileTriggers(ScopeInteraction, in.ID, in.Triggers)
		problems = append(problems, errs...)
	}
	return problems
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
