// Package manager owns the conversation sessions of every connected robot
// and routes inbound events to them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voicetyped/conversation/pkg/character"
	"github.com/voicetyped/conversation/pkg/conversation"
	"github.com/voicetyped/conversation/pkg/events"
)

// FallbackMessage is spoken and displayed when a robot cannot be given a
// working conversation.
const FallbackMessage = "Sorry, I am having trouble getting my conversations ready. Please ask my operator to check my configuration."

const (
	defaultSessionTTL   = 30 * time.Minute
	defaultReapInterval = time.Minute
	defaultListInterval = 5 * time.Minute
	closeWait           = 5 * time.Second
)

var (
	// ErrUnknownSession is returned when an event names no live session.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionExists is returned when initializing an id that is live.
	ErrSessionExists = errors.New("session already exists")
	// ErrUnknownGroup is returned when a conversation group is not loaded.
	ErrUnknownGroup = errors.New("unknown conversation group")
)

// Groups supplies authored conversation groups. *conversation.Loader
// implements it.
type Groups interface {
	Get(id string) (*conversation.ConversationGroup, bool)
	GroupIDs() []string
}

// Config holds the session defaults and the periodic task intervals.
type Config struct {
	DefaultGroup       string
	Debounce           conversation.DebouncePolicy
	DefaultFailTimeout time.Duration
	RandomSeed         uint64
	MaxHistory         int
	SessionTTL         time.Duration
	ReapInterval       time.Duration
	ListInterval       time.Duration
}

// InboundEvent is the wire form of an event addressed to a session.
type InboundEvent struct {
	SessionID string `json:"session_id"`
	conversation.Event
}

// Summary describes one live session.
type Summary struct {
	SessionID string                `json:"session_id"`
	GroupID   string                `json:"group_id"`
	Snapshot  conversation.Snapshot `json:"snapshot"`
	LastSeen  time.Time             `json:"last_seen"`
}

type entry struct {
	session *conversation.Session
	groupID string
	cancel  context.CancelFunc
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg    Config
	groups Groups

	emitter   conversation.Emitter
	commands  conversation.CommandRunner
	pool      conversation.TaskRunner
	recorder  conversation.TransitionRecorder
	snapshots conversation.Snapshotter
	capsFor   func(sessionID string) character.Capabilities

	lifetime context.Context

	mu       sync.RWMutex
	sessions map[string]*entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmitter publishes session activity and, unless WithCapabilities is
// given, robot directives through e.
func WithEmitter(e conversation.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithCommands sets the runner for interaction commands.
func WithCommands(r conversation.CommandRunner) Option {
	return func(m *Manager) { m.commands = r }
}

// WithWorkerPool runs periodic tasks, commands and persistence on p.
func WithWorkerPool(p conversation.TaskRunner) Option {
	return func(m *Manager) { m.pool = p }
}

// WithRecorder persists transitions of every session.
func WithRecorder(r conversation.TransitionRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithSnapshotter stores session snapshots.
func WithSnapshotter(s conversation.Snapshotter) Option {
	return func(m *Manager) { m.snapshots = s }
}

// WithCapabilities overrides how a session's robot capabilities are built.
func WithCapabilities(fn func(sessionID string) character.Capabilities) Option {
	return func(m *Manager) { m.capsFor = fn }
}

// New creates a manager. Start must be called to run the periodic tasks.
func New(cfg Config, groups Groups, opts ...Option) *Manager {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if cfg.ListInterval <= 0 {
		cfg.ListInterval = defaultListInterval
	}
	m := &Manager{
		cfg:      cfg,
		groups:   groups,
		lifetime: context.Background(),
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.capsFor == nil {
		m.capsFor = m.defaultCapabilities
	}
	return m
}

func (m *Manager) defaultCapabilities(sessionID string) character.Capabilities {
	if m.emitter == nil {
		return character.Capabilities{}
	}
	return character.NewPublishing(m.emitter, sessionID).Capabilities()
}

// Start ties sessions and periodic tasks to ctx. Sessions created later
// end when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.lifetime = ctx
	m.mu.Unlock()

	m.every(ctx, m.cfg.ReapInterval, m.reapIdle)
	m.every(ctx, m.cfg.ListInterval, m.publishLists)
}

func (m *Manager) every(ctx context.Context, interval time.Duration, task func(context.Context)) {
	loop := func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}
	if m.pool != nil {
		if err := m.pool.Submit(ctx, loop); err == nil {
			return
		}
	}
	go loop()
}

// Params builds character parameters for a loaded group. An unknown group
// yields parameters with an Error status so that Initialize reports it.
func (m *Manager) Params(groupID string) conversation.CharacterParameters {
	if groupID == "" {
		groupID = m.cfg.DefaultGroup
	}
	params := conversation.CharacterParameters{
		Status:             conversation.InitSuccess,
		Debounce:           m.cfg.Debounce,
		RandomSeed:         m.cfg.RandomSeed,
		DefaultFailTimeout: m.cfg.DefaultFailTimeout,
	}
	g, ok := m.groups.Get(groupID)
	if !ok {
		params.Status = conversation.InitError
		params.StatusMessages = []string{fmt.Sprintf("%v: %q", ErrUnknownGroup, groupID)}
		return params
	}
	params.Group = g
	params.Locale = g.Locale
	params.DefaultEmotion = g.DefaultEmotion
	return params
}

// Initialize creates and runs a session. When the parameters cannot
// produce a working conversation the robot speaks and displays
// FallbackMessage and the FatalInitializationError is returned.
func (m *Manager) Initialize(ctx context.Context, sessionID string, params conversation.CharacterParameters) (*conversation.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	m.mu.RLock()
	_, exists := m.sessions[sessionID]
	lifetime := m.lifetime
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, sessionID)
	}

	caps := m.capsFor(sessionID)
	opts := []conversation.Option{
		conversation.WithCapabilities(caps),
		conversation.WithMaxHistory(m.cfg.MaxHistory),
	}
	if m.commands != nil {
		opts = append(opts, conversation.WithCommands(m.commands))
	}
	if m.pool != nil {
		opts = append(opts, conversation.WithWorkerPool(m.pool))
	}
	if m.emitter != nil {
		opts = append(opts, conversation.WithEmitter(m.emitter))
	}
	if m.recorder != nil {
		opts = append(opts, conversation.WithRecorder(m.recorder))
	}
	if m.snapshots != nil {
		opts = append(opts, conversation.WithSnapshotter(m.snapshots))
	}

	session, err := conversation.NewSession(ctx, sessionID, params, opts...)
	if err != nil {
		m.fallback(ctx, sessionID, caps, err)
		return nil, err
	}

	groupID := ""
	if params.Group != nil {
		groupID = params.Group.ID
	}
	runCtx, cancel := context.WithCancel(lifetime)
	e := &entry{session: session, groupID: groupID, cancel: cancel}

	m.mu.Lock()
	if _, raced := m.sessions[sessionID]; raced {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, sessionID)
	}
	m.sessions[sessionID] = e
	m.mu.Unlock()

	go m.run(runCtx, e)

	slog.InfoContext(ctx, "session initialized", slog.String("session_id", sessionID), slog.String("group_id", groupID))
	m.emit(ctx, events.SessionStarted, sessionID, &events.ConversationData{GroupID: groupID})
	return session, nil
}

func (m *Manager) run(ctx context.Context, e *entry) {
	id := e.session.ID()
	if err := e.session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "session ended with error", slog.String("session_id", id), slog.String("error", err.Error()))
	}

	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok && cur == e {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	e.cancel()
	m.emit(context.WithoutCancel(ctx), events.SessionStopped, id, &events.ConversationData{GroupID: e.groupID})
}

func (m *Manager) fallback(ctx context.Context, sessionID string, caps character.Capabilities, cause error) {
	slog.ErrorContext(ctx, "session initialization failed",
		slog.String("session_id", sessionID), slog.String("error", cause.Error()))

	caps = caps.WithDefaults()
	if err := caps.Speech.Speak(ctx, character.SpeakRequest{Text: FallbackMessage, Interrupt: true}); err != nil {
		slog.WarnContext(ctx, "fallback speech failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
	if err := caps.Display.DisplayText(ctx, FallbackMessage); err != nil {
		slog.WarnContext(ctx, "fallback display failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
	m.emit(ctx, events.SystemError, sessionID, &events.ErrorData{Kind: "initialization", Message: cause.Error()})
}

// Session returns a live session.
func (m *Manager) Session(id string) (*conversation.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// List summarizes every live session, sorted by id.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for id, e := range m.sessions {
		out = append(out, Summary{
			SessionID: id,
			GroupID:   e.groupID,
			Snapshot:  e.session.Snapshot(),
			LastSeen:  e.session.LastActivity(),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Route delivers an inbound event to its session. A StartConversation for
// an unknown session initializes it with the default group first.
func (m *Manager) Route(ctx context.Context, in InboundEvent) error {
	if in.SessionID == "" {
		return errors.New("event has no session id")
	}
	session, ok := m.Session(in.SessionID)
	if !ok {
		if in.Name != conversation.EventStartConversation || m.cfg.DefaultGroup == "" {
			return fmt.Errorf("%w: %q", ErrUnknownSession, in.SessionID)
		}
		var err error
		session, err = m.Initialize(ctx, in.SessionID, m.Params(m.cfg.DefaultGroup))
		if err != nil {
			return err
		}
	}
	return session.Submit(in.Event)
}

// Close stops a session and waits briefly for it to finish.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}

	e.session.Close()
	select {
	case <-e.session.Done():
	case <-time.After(closeWait):
		slog.WarnContext(ctx, "session did not exit in time", slog.String("session_id", id))
	}
	e.cancel()
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Close(ctx, id)
	}
}

// ApplyGroupChanges forwards reloaded conversations to the sessions
// running the changed groups as LoadConversation and RemoveConversation
// events.
func (m *Manager) ApplyGroupChanges(ctx context.Context, changes []conversation.GroupChange) {
	m.mu.RLock()
	byGroup := make(map[string][]*conversation.Session)
	for _, e := range m.sessions {
		byGroup[e.groupID] = append(byGroup[e.groupID], e.session)
	}
	m.mu.RUnlock()

	for _, change := range changes {
		for _, s := range byGroup[change.GroupID] {
			for _, c := range change.Changed {
				if err := s.Load(c); err != nil {
					slog.WarnContext(ctx, "reload conversation", slog.String("session_id", s.ID()), slog.String("error", err.Error()))
				}
			}
			for _, id := range change.Removed {
				if err := s.Remove(id); err != nil {
					slog.WarnContext(ctx, "remove conversation", slog.String("session_id", s.ID()), slog.String("error", err.Error()))
				}
			}
		}
		slog.InfoContext(ctx, "conversation group reloaded",
			slog.String("group_id", change.GroupID),
			slog.Int("changed", len(change.Changed)),
			slog.Int("removed", len(change.Removed)),
			slog.Int("sessions", len(byGroup[change.GroupID])))
	}
}

func (m *Manager) reapIdle(ctx context.Context) {
	if m.cfg.SessionTTL < 0 {
		return
	}
	now := time.Now()
	var idle []string
	m.mu.RLock()
	for id, e := range m.sessions {
		if now.Sub(e.session.LastActivity()) > m.cfg.SessionTTL {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		slog.WarnContext(ctx, "reaping idle session", slog.String("session_id", id))
		_ = m.Close(ctx, id)
	}
}

func (m *Manager) publishLists(ctx context.Context) {
	for _, s := range m.List() {
		m.emit(ctx, events.ConversationList, s.SessionID, &events.ConversationListData{
			GroupID:         s.GroupID,
			ConversationIDs: s.Snapshot.Conversations,
		})
	}
}

func (m *Manager) emit(ctx context.Context, et events.EventType, sessionID string, data any) {
	if m.emitter == nil {
		return
	}
	if err := m.emitter.Emit(ctx, et, sessionID, data); err != nil {
		slog.WarnContext(ctx, "emit failed", slog.String("event_type", string(et)), slog.String("error", err.Error()))
	}
}
