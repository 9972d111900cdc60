package conversation

import (
	"context"
	"time"

	"github.com/voicetyped/conversation/pkg/character"
	"github.com/voicetyped/conversation/pkg/commands"
	"github.com/voicetyped/conversation/pkg/events"
)

// DefaultMaxHistory is the maximum number of transition records kept in
// memory before eviction.
const DefaultMaxHistory = 1000

// Emitter publishes session activity. *events.Publisher implements it.
type Emitter interface {
	Emit(ctx context.Context, eventType events.EventType, sessionID string, data any) error
}

// CommandRunner executes named external commands. *commands.Registry
// implements it.
type CommandRunner interface {
	Run(ctx context.Context, name string, req commands.Request) (*commands.Response, error)
}

// TaskRunner runs work off the dispatch goroutine. frame's worker pool
// implements it.
type TaskRunner interface {
	Submit(ctx context.Context, task func()) error
}

// TransitionRecord is one entry of a session's transition history.
type TransitionRecord struct {
	SessionID        string    `json:"session_id"`
	FromConversation string    `json:"from_conversation,omitempty"`
	FromInteraction  string    `json:"from_interaction,omitempty"`
	ToConversation   string    `json:"to_conversation,omitempty"`
	ToInteraction    string    `json:"to_interaction,omitempty"`
	Trigger          string    `json:"trigger"`
	Timestamp        time.Time `json:"timestamp"`
}

// TransitionRecorder persists transition history outside the process.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, rec TransitionRecord) error
}

// Snapshotter stores the latest session snapshot outside the process.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Option configures a Machine or Session.
type Option func(*settings)

type settings struct {
	caps       character.Capabilities
	commands   CommandRunner
	pool       TaskRunner
	emitter    Emitter
	recorder   TransitionRecorder
	snapshots  Snapshotter
	maxHistory int
	post       func(Event) bool
}

// WithCapabilities sets the robot capabilities driven by the session.
func WithCapabilities(c character.Capabilities) Option {
	return func(s *settings) { s.caps = c }
}

// WithCommands sets the runner for interaction commands.
func WithCommands(r CommandRunner) Option {
	return func(s *settings) { s.commands = r }
}

// WithWorkerPool runs commands and persistence on pool instead of bare
// goroutines.
func WithWorkerPool(p TaskRunner) Option {
	return func(s *settings) { s.pool = p }
}

// WithEmitter publishes session activity to e.
func WithEmitter(e Emitter) Option {
	return func(s *settings) { s.emitter = e }
}

// WithRecorder persists every transition to r.
func WithRecorder(r TransitionRecorder) Option {
	return func(s *settings) { s.recorder = r }
}

// WithSnapshotter stores a snapshot whenever the current interaction or
// state changes.
func WithSnapshotter(sn Snapshotter) Option {
	return func(s *settings) { s.snapshots = sn }
}

// WithMaxHistory caps the in-memory transition history.
func WithMaxHistory(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

func withPost(fn func(Event) bool) Option {
	return func(s *settings) { s.post = fn }
}
