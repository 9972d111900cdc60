package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/rs/xid"
)

const defaultStreamBuffer = 64

// Publisher sends session events to the robot collaborator over the frame
// queue and hands a copy to every local stream (SSE clients, tests).
// Without a queue manager it only feeds local streams.
type Publisher struct {
	bus    queue.Manager
	topic  string
	source string

	mu      sync.RWMutex
	streams map[string]chan Envelope
}

// NewPublisher creates a publisher for queueRef on queueMgr. queueMgr may
// be nil.
func NewPublisher(queueMgr queue.Manager, source string, queueRef string) *Publisher {
	return &Publisher{
		bus:     queueMgr,
		topic:   queueRef,
		source:  source,
		streams: make(map[string]chan Envelope),
	}
}

// Emit wraps data in an Envelope for sessionID. Local streams that are
// full miss the event; the queue publish error is returned.
func (p *Publisher) Emit(ctx context.Context, eventType EventType, sessionID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env := Envelope{
		ID:        xid.New().String(),
		Type:      eventType,
		Source:    p.source,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	p.broadcast(ctx, env)

	if p.bus == nil {
		return nil
	}
	return p.bus.Publish(ctx, p.topic, env)
}

func (p *Publisher) broadcast(ctx context.Context, env Envelope) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, ch := range p.streams {
		select {
		case ch <- env:
		default:
			slog.WarnContext(ctx, "stream lagging, event skipped",
				slog.String("stream", name),
				slog.String("session_id", env.SessionID),
				slog.String("event_type", string(env.Type)))
		}
	}
}

// Subscribe opens a local stream named id. Reusing an id closes the
// previous stream. Unsubscribe releases it.
func (p *Publisher) Subscribe(id string, bufSize int) <-chan Envelope {
	if bufSize <= 0 {
		bufSize = defaultStreamBuffer
	}
	ch := make(chan Envelope, bufSize)

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.streams[id]; ok {
		close(prev)
	}
	p.streams[id] = ch
	return ch
}

// Unsubscribe closes the stream named id. Unknown ids are ignored.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.streams[id]
	if !ok {
		return
	}
	delete(p.streams, id)
	close(ch)
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
