package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const snapshotSaveTimeout = 2 * time.Second

// Session is one running conversation, normally one per robot. It
// serializes every stimulus through an unbounded FIFO queue processed by a
// single dispatch goroutine, so the Machine inside is never touched
// concurrently.
type Session struct {
	id        string
	machine   *Machine
	queue     *eventQueue
	snapshots Snapshotter

	snap         atomic.Pointer[Snapshot]
	lastActivity atomic.Int64
	running      atomic.Bool

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// NewSession creates an idle session. Run must be called to start
// processing; Submit may be called before that and events wait in order.
func NewSession(ctx context.Context, id string, params CharacterParameters, opts ...Option) (*Session, error) {
	s := &Session{
		id:      id,
		queue:   newEventQueue(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}
	s.snapshots = cfg.snapshots

	opts = append(opts, withPost(s.queue.push))
	m, err := NewMachine(ctx, id, params, opts...)
	if err != nil {
		return nil, err
	}
	s.machine = m
	s.touch()
	s.publishSnapshot(ctx, true)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Submit enqueues an inbound event stamped with its arrival time. It is
// safe to call from any goroutine and never blocks.
func (s *Session) Submit(ev Event) error {
	ev.Timestamp = time.Now()
	switch {
	case ev.IsControl():
		ev.kind = kindControl
	case ev.Trigger == TriggerAudioCompleted && ev.UtteranceID != "":
		ev.kind = kindSpeechComplete
	case ev.Trigger == "":
		return fmt.Errorf("event %q has no trigger type", ev.Name)
	default:
		ev.kind = kindTrigger
	}
	ev.generation, ev.outcome = 0, nil

	if !s.queue.push(ev) {
		return ErrSessionClosed
	}
	s.touch()
	return nil
}

// Start asks the session to enter conversation ref, or the startup
// conversation when ref is empty. vars are merged into the session
// variables before the first interaction renders.
func (s *Session) Start(ref string, vars ...map[string]string) error {
	ev := Event{Name: EventStartConversation, ConversationID: ref}
	for _, v := range vars {
		if ev.Payload == nil {
			ev.Payload = make(map[string]string, len(v))
		}
		for k, val := range v {
			ev.Payload[k] = val
		}
	}
	return s.Submit(ev)
}

// Stop asks the session to stop its conversation. Stopping a stopped
// session is a no-op.
func (s *Session) Stop() error {
	return s.Submit(Event{Name: EventStopConversation})
}

// Load adds or replaces a conversation without interrupting the active
// interaction of a different conversation.
func (s *Session) Load(c Conversation) error {
	return s.Submit(Event{Name: EventLoadConversation, ConversationID: c.ID, Conversation: &c})
}

// Remove drops a conversation from the session's group.
func (s *Session) Remove(conversationID string) error {
	return s.Submit(Event{Name: EventRemoveConversation, ConversationID: conversationID})
}

// NotifySpeechComplete reports that the robot finished saying utteranceID.
// Completions for utterances of a previous interaction are ignored.
func (s *Session) NotifySpeechComplete(utteranceID string) error {
	if !s.queue.push(Event{Trigger: TriggerAudioCompleted, UtteranceID: utteranceID, Timestamp: time.Now(), kind: kindSpeechComplete}) {
		return ErrSessionClosed
	}
	return nil
}

// Snapshot returns the view published after the last processed event.
func (s *Session) Snapshot() Snapshot {
	snap := *s.snap.Load()
	snap.QueueDepth = s.queue.len()
	return snap
}

// History returns the transition history.
func (s *Session) History() []TransitionRecord {
	return s.machine.CopyHistory()
}

// LastActivity reports when an event was last submitted.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run processes events until ctx is cancelled or Close is called. On
// return the conversation is stopped and its timers cancelled.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	metricActiveSessions.Inc()
	defer func() {
		stopCtx := context.WithoutCancel(ctx)
		s.machine.Stop(stopCtx, "session closed")
		s.queue.close()
		s.publishSnapshot(stopCtx, true)
		metricActiveSessions.Dec()
		close(s.done)
	}()

	slog.InfoContext(ctx, "session running", slog.String("session_id", s.id))
	for {
		for {
			ev, depth, ok := s.queue.pop()
			if !ok {
				break
			}
			metricQueueDepth.Observe(float64(depth))
			s.dispatch(ctx, ev)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closing:
				return nil
			default:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closing:
			return nil
		case <-s.queue.ready:
		}
	}
}

// Close ends Run. Queued events that have not been processed are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// dispatch handles one event. A panic is confined to the event that
// caused it.
func (s *Session) dispatch(ctx context.Context, ev Event) {
	before := s.machine.Snapshot()
	defer func() {
		if p := recover(); p != nil {
			metricDispatchPanics.Inc()
			slog.ErrorContext(ctx, "event dispatch panicked",
				slog.String("session_id", s.id),
				slog.String("event", ev.Label()),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			s.machine.settle(ctx)
		}
		after := s.machine.Snapshot()
		s.publishSnapshot(ctx, after.Generation != before.Generation || after.State != before.State)
	}()

	metricEventsProcessed.WithLabelValues(eventMetricLabel(ev)).Inc()
	s.machine.Handle(ctx, ev)
}

func (s *Session) publishSnapshot(ctx context.Context, changed bool) {
	snap := s.machine.Snapshot()
	s.snap.Store(&snap)
	if !changed || s.snapshots == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotSaveTimeout)
	defer cancel()
	if err := s.snapshots.SaveSnapshot(saveCtx, snap); err != nil {
		slog.WarnContext(ctx, "save snapshot failed", slog.String("session_id", s.id), slog.String("error", err.Error()))
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func eventMetricLabel(ev Event) string {
	switch {
	case ev.IsControl():
		return ev.Name
	case ev.Trigger.Valid():
		return string(ev.Trigger)
	default:
		return "unknown"
	}
}
