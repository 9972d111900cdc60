package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voicetyped/conversation/internal/character/manager"
	"github.com/voicetyped/conversation/pkg/conversation"
	"github.com/voicetyped/conversation/pkg/events"
)

type groups map[string]*conversation.ConversationGroup

func (g groups) Get(id string) (*conversation.ConversationGroup, bool) {
	grp, ok := g[id]
	return grp, ok
}

func (g groups) GroupIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	return ids
}

type fakeHistory struct{ records []conversation.TransitionRecord }

func (f fakeHistory) ListBySession(_ context.Context, _ string, _, _ int) ([]conversation.TransitionRecord, error) {
	return f.records, nil
}

type fakeSnapshots map[string]conversation.Snapshot

func (f fakeSnapshots) Load(_ context.Context, id string) (*conversation.Snapshot, error) {
	s, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s, nil
}

func testGroups() groups {
	return groups{"lobby": {
		ID:                  "lobby",
		Name:                "Lobby",
		StartupConversation: "greet",
		Conversations: []conversation.Conversation{{
			ID: "greet",
			Interactions: []conversation.Interaction{
				{ID: "hello", Speech: "Hi {{.Variables.name}}", FailedTimeoutSec: -1, Triggers: []conversation.TriggerMapping{{
					Detail:  conversation.TriggerDetail{Trigger: conversation.TriggerBumperPressed},
					Actions: []conversation.TriggerActionOption{{GoToInteraction: "bye"}},
				}}},
				{ID: "bye", FailedTimeoutSec: -1},
			},
		}},
	}}
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *manager.Manager, *events.Publisher) {
	t.Helper()
	g := testGroups()
	pub := events.NewPublisher(nil, "test", "")
	mgr := manager.New(manager.Config{DefaultGroup: "lobby"}, g, manager.WithEmitter(pub))
	mgr.Start(t.Context())

	mux := http.NewServeMux()
	NewHandler(mgr, g, pub, opts...).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		mgr.Shutdown(context.Background())
	})
	return srv, mgr, pub
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateSession(t *testing.T) {
	srv, mgr, _ := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "created", body: CreateSessionRequest{SessionID: "r1", Variables: map[string]string{"name": "Ada"}}, want: http.StatusCreated},
		{name: "duplicate", body: CreateSessionRequest{SessionID: "r1"}, want: http.StatusConflict},
		{name: "unknown group", body: CreateSessionRequest{SessionID: "r2", GroupID: "nope"}, want: http.StatusUnprocessableEntity},
		{name: "missing id", body: CreateSessionRequest{}, want: http.StatusBadRequest},
		{name: "bad json", body: "{", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	s, ok := mgr.Session("r1")
	if !ok {
		t.Fatal("session r1 not live")
	}
	waitFor(t, "hello", func() bool { return s.Snapshot().InteractionID == "hello" })
	if got := s.Snapshot().Variables["name"]; got != "Ada" {
		t.Errorf("variable name = %q", got)
	}
}

func TestGetAndDeleteSession(t *testing.T) {
	stored := fakeSnapshots{"old": {SessionID: "old", GroupID: "lobby", State: conversation.StateStopped}}
	srv, _, _ := newTestServer(t, WithSnapshotStore(stored))

	do(t, http.MethodPost, srv.URL+"/api/v1/sessions", CreateSessionRequest{SessionID: "r1"})

	got := decode[SessionResponse](t, do(t, http.MethodGet, srv.URL+"/api/v1/sessions/r1", nil))
	if !got.Live || got.GroupID != "lobby" {
		t.Errorf("live session = %+v", got)
	}
	old := decode[SessionResponse](t, do(t, http.MethodGet, srv.URL+"/api/v1/sessions/old", nil))
	if old.Live || old.Snapshot.State != conversation.StateStopped {
		t.Errorf("stored session = %+v", old)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/sessions/ghost", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("ghost status = %d", resp.StatusCode)
	}

	list := decode[[]SessionResponse](t, do(t, http.MethodGet, srv.URL+"/api/v1/sessions", nil))
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	if resp := do(t, http.MethodDelete, srv.URL+"/api/v1/sessions/r1", nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/api/v1/sessions/r1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
}

func TestPostEventAndHistory(t *testing.T) {
	srv, mgr, _ := newTestServer(t, WithHistoryStore(fakeHistory{records: []conversation.TransitionRecord{{SessionID: "r1", Trigger: "stored"}}}))
	do(t, http.MethodPost, srv.URL+"/api/v1/sessions", CreateSessionRequest{SessionID: "r1"})
	s, _ := mgr.Session("r1")
	waitFor(t, "hello", func() bool { return s.Snapshot().InteractionID == "hello" })

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "trigger", path: "r1", body: map[string]string{"trigger_type": "BumperPressed", "filter_value": "FrontRight"}, want: http.StatusAccepted},
		{name: "no trigger", path: "r1", body: map[string]string{"text": "hi"}, want: http.StatusBadRequest},
		{name: "unknown session", path: "ghost", body: map[string]string{"trigger_type": "BumperPressed"}, want: http.StatusNotFound},
		{name: "bad json", path: "r1", body: "{", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+tt.path+"/events", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
	waitFor(t, "bye", func() bool { return s.Snapshot().InteractionID == "bye" })

	mem := decode[HistoryResponse](t, do(t, http.MethodGet, srv.URL+"/api/v1/sessions/r1/history", nil))
	if mem.Source != "memory" || len(mem.Transitions) != 2 {
		t.Errorf("memory history = %+v", mem)
	}
	store := decode[HistoryResponse](t, do(t, http.MethodGet, srv.URL+"/api/v1/sessions/r1/history?source=store&limit=10", nil))
	if store.Source != "store" || len(store.Transitions) != 1 || store.Transitions[0].Trigger != "stored" {
		t.Errorf("store history = %+v", store)
	}
}

func TestHistoryStoreNotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/sessions/r1/history?source=store", nil); resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestListGroups(t *testing.T) {
	srv, _, _ := newTestServer(t)
	got := decode[[]GroupResponse](t, do(t, http.MethodGet, srv.URL+"/api/v1/groups", nil))
	if len(got) != 1 || got[0].ID != "lobby" || len(got[0].Conversations) != 1 {
		t.Errorf("groups = %+v", got)
	}
}

func TestStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/api/v1/sessions", CreateSessionRequest{SessionID: "r1", Start: new(bool)})

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/r1/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	do(t, http.MethodPost, srv.URL+"/api/v1/sessions/r1/events", map[string]string{"event_name": "StartConversation"})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: "+string(events.InteractionEntered)) {
			return
		}
	}
	t.Fatalf("no interaction.entered event streamed: %v", scanner.Err())
}
