package snapshot

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voicetyped/conversation/pkg/conversation"
)

func newTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := Dial(t.Context(), "redis://"+mr.Addr(), ttl)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestSaveAndLoad(t *testing.T) {
	store, _ := newTestStore(t, 0)

	snap := conversation.Snapshot{
		SessionID:      "robot-1",
		GroupID:        "lobby",
		State:          conversation.StateActive,
		ConversationID: "greet",
		InteractionID:  "hello",
		Generation:     3,
		Conversations:  []string{"greet", "help"},
		Variables:      map[string]string{"name": "Ada"},
		UpdatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveSnapshot(t.Context(), snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := store.Load(t.Context(), "robot-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.InteractionID != "hello" || got.Generation != 3 || got.Variables["name"] != "Ada" {
		t.Errorf("loaded %+v", got)
	}
	if !got.UpdatedAt.Equal(snap.UpdatedAt) {
		t.Errorf("UpdatedAt = %v", got.UpdatedAt)
	}

	if err := store.Delete(t.Context(), "robot-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(t.Context(), "robot-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotExpires(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)

	if err := store.SaveSnapshot(t.Context(), conversation.Snapshot{SessionID: "robot-2"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if ttl := mr.TTL(sessionKey("robot-2")); ttl != time.Minute {
		t.Errorf("ttl = %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Load(t.Context(), "robot-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired snapshot err = %v", err)
	}
}

func TestLoadCorrupt(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, 0)
	t.Cleanup(func() { _ = store.Close() })

	if err := mr.Set(sessionKey("bad"), "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load(t.Context(), "bad"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt snapshot err = %v", err)
	}
}
