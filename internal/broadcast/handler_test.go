package broadcast

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mschirtzinger/postlink/internal/schema"
)

func startHandler(t *testing.T) (*Hub, string) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	hub := NewHub(HubConfig{Logger: quiet})
	srv := httptest.NewServer(NewHandler(hub, quiet))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialClient(t *testing.T, url, id string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, DefaultTopic, id, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Failed to dial as %s: %v", id, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatalf("Connection for %s closed: %v", c.ID, c.Err())
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for message on %s", c.ID)
		return Message{}
	}
}

func TestHandler_RelaysToOthersOnly(t *testing.T) {
	hub, url := startHandler(t)
	a := dialClient(t, url, "client-a")
	b := dialClient(t, url, "client-b")

	if got := hub.ClientCount(DefaultTopic); got != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", got)
	}

	msg, err := NewMessage("spoofed", schema.EntitySchedule, OpDelete, DeletePayload{ID: "9"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := a.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := waitMessage(t, b)
	if got.ID != msg.ID {
		t.Errorf("Expected message %s, got %s", msg.ID, got.ID)
	}
	if got.Origin != "client-a" {
		t.Errorf("Expected origin client-a, got %q", got.Origin)
	}

	select {
	case echo := <-a.Messages():
		t.Errorf("Originator received its own message %s", echo.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandler_ServerPublishReachesAll(t *testing.T) {
	hub, url := startHandler(t)
	a := dialClient(t, url, "client-a")
	b := dialClient(t, url, "client-b")

	msg, err := NewMessage(OriginCascade, schema.EntityPost, OpUpdate, &schema.Post{ID: "7"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := hub.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, c := range []*Client{a, b} {
		got := waitMessage(t, c)
		if got.Entity != schema.EntityPost || got.Op != OpUpdate {
			t.Errorf("Unexpected message on %s: %s %s", c.ID, got.Entity, got.Op)
		}
	}
}

func TestHandler_LeaveOnClose(t *testing.T) {
	hub, url := startHandler(t)
	c := dialClient(t, url, "client-a")
	_ = c.Close()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Client read loop did not stop")
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount(DefaultTopic) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Subscriber not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.Publish(context.Background(), Message{}); err != ErrClosed {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}

func TestHandler_RejectsIncompatibleProtocol(t *testing.T) {
	_, url := startHandler(t)

	header := http.Header{}
	header.Set(ProtocolHeader, "v2.0.0")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("Expected 426 response, got %v", resp)
	}
}

func TestHandler_RejectsReservedClientID(t *testing.T) {
	hub, url := startHandler(t)

	for _, id := range []string{OriginServer, OriginCascade, "Cascade"} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := Dial(ctx, url, DefaultTopic, id, log.New(io.Discard, "", 0))
		cancel()
		if err == nil {
			t.Errorf("Expected dial as %q to fail", id)
		}
	}
	if n := hub.ClientCount(DefaultTopic); n != 0 {
		t.Errorf("Expected no subscribers after rejected dials, got %d", n)
	}
}

func TestIsReservedOrigin(t *testing.T) {
	for id, want := range map[string]bool{
		"server":  true,
		"cascade": true,
		" SERVER": true,
		"alice":   false,
		"":        false,
	} {
		if got := IsReservedOrigin(id); got != want {
			t.Errorf("IsReservedOrigin(%q) = %v, want %v", id, got, want)
		}
	}
}
