package client

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/datenorm"
	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/server"
	"github.com/mschirtzinger/postlink/internal/service"
	"github.com/mschirtzinger/postlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (*httptest.Server, *broadcast.Hub) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	hub := broadcast.NewHub(broadcast.HubConfig{Logger: quiet})
	svc := service.New(service.Config{Store: store.NewMemory(), Publisher: hub, Logger: quiet})
	srv, err := server.New(server.Config{Service: svc, Hub: hub, Logger: quiet})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, hub
}

func startSession(t *testing.T, url, id string) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		ServerURL: url,
		ClientID:  id,
		Backoff:   20 * time.Millisecond,
		Logger:    log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, s.Connected, 3*time.Second, 10*time.Millisecond)
	return s
}

func TestWebSocketURL(t *testing.T) {
	u, err := WebSocketURL("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws", u)

	u, err = WebSocketURL("https://example.com/postlink/")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/postlink/ws", u)

	_, err = WebSocketURL("ftp://example.com")
	assert.Error(t, err)
}

func TestSession_TwoClientsConverge(t *testing.T) {
	ts, _ := startTestServer(t)
	alice := startSession(t, ts.URL, "alice")
	bob := startSession(t, ts.URL, "bob")
	ctx := context.Background()

	entry, err := alice.Store().CreateSchedule(ctx, &schema.ScheduleEntry{
		DueDate: datenorm.Ptr(datenorm.New(2025, time.June, 1)),
		Market:  "US",
	})
	require.NoError(t, err)
	post, err := alice.Store().CreatePost(ctx, &schema.Post{LinkedScheduleID: &entry.ID, LinkedDateOffset: -3})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, ok := bob.Store().Post(post.ID)
		return ok && p.PostDate.String() == "2025-05-29"
	}, 3*time.Second, 10*time.Millisecond, "bob sees alice's writes")

	_, err = alice.Store().CommitSchedule(ctx, entry.ID, schema.SchedulePatch{
		DueDate: schema.Some(datenorm.New(2025, time.June, 15)),
	})
	require.NoError(t, err)

	for _, s := range []*Session{alice, bob} {
		require.Eventually(t, func() bool {
			p, ok := s.Store().Post(post.ID)
			return ok && p.PostDate.String() == "2025-06-12"
		}, 3*time.Second, 10*time.Millisecond, "cascade reaches %s", s.Store().ClientID())
	}

	require.NoError(t, bob.Store().DeleteSchedule(ctx, entry.ID))
	require.Eventually(t, func() bool {
		_, exists := alice.Store().Schedule(entry.ID)
		p, ok := alice.Store().Post(post.ID)
		return !exists && ok && p.LinkedRowOrphaned && p.LinkedScheduleID == nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStore_WritesReachOthersWithoutSocket(t *testing.T) {
	ts, hub := startTestServer(t)
	bob := hub.Subscribe(broadcast.DefaultTopic, "bob")
	defer bob.Close()
	echo := hub.Subscribe(broadcast.DefaultTopic, "alice")
	defer echo.Close()

	// alice writes over REST only; her websocket is down.
	alice := NewStore(Config{
		ClientID:  "alice",
		Persister: NewAPI(ts.URL, "alice", nil),
		Logger:    log.New(io.Discard, "", 0),
	})
	entry, err := alice.CreateSchedule(context.Background(), &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)

	select {
	case msg := <-bob.Messages():
		assert.Equal(t, "alice", msg.Origin)
		assert.Equal(t, broadcast.OpCreate, msg.Op)
		got, err := msg.Schedule()
		require.NoError(t, err)
		assert.Equal(t, entry.ID, got.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("bob never heard about alice's schedule")
	}
	select {
	case msg := <-echo.Messages():
		t.Fatalf("alice received her own %s", msg.Op)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_FullFetchOnConnect(t *testing.T) {
	ts, _ := startTestServer(t)
	api := NewAPI(ts.URL, "", nil)
	ctx := context.Background()

	_, err := api.CreateSchedule(ctx, &schema.ScheduleEntry{Market: "US"})
	require.NoError(t, err)
	_, err = api.CreatePost(ctx, &schema.Post{Title: "Existing"})
	require.NoError(t, err)

	s := startSession(t, ts.URL, "late")
	assert.Len(t, s.Store().Schedules(), 1)
	assert.Len(t, s.Store().Posts(), 1)

	_, err = api.UpdateSchedule(ctx, "999", schema.SchedulePatch{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewSession_RequiresURL(t *testing.T) {
	_, err := NewSession(SessionConfig{})
	assert.Error(t, err)

	_, err = NewSession(SessionConfig{ServerURL: "http://127.0.0.1:1", ClientID: broadcast.OriginCascade})
	assert.ErrorContains(t, err, "reserved")
}
