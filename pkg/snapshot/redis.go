// Package snapshot keeps the latest state of every conversation session in
// Redis so operators and restarted instances can see where a robot was.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voicetyped/conversation/pkg/conversation"
)

const keyPrefix = "conversation:snapshot:"

// ErrNotFound is returned when no snapshot is stored for a session.
var ErrNotFound = errors.New("snapshot not found")

// RedisStore implements conversation.Snapshotter using Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps snapshots
// until they are deleted.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Dial parses redisURL, connects and pings the server.
func Dial(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

// SaveSnapshot stores snap under its session id.
func (r *RedisStore) SaveSnapshot(ctx context.Context, snap conversation.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(snap.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot %q: %w", snap.SessionID, err)
	}
	return nil
}

// Load returns the stored snapshot of a session.
func (r *RedisStore) Load(ctx context.Context, sessionID string) (*conversation.Snapshot, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", sessionID, err)
	}

	var snap conversation.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %q: %w", sessionID, err)
	}
	return &snap, nil
}

// Delete removes a session's snapshot.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, sessionKey(sessionID)).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
