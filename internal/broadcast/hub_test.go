package broadcast

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietHub(cfg HubConfig) *Hub {
	cfg.Logger = log.New(io.Discard, "", 0)
	return NewHub(cfg)
}

func testMessage(t *testing.T, origin string) Message {
	t.Helper()
	msg, err := NewMessage(origin, schema.EntitySchedule, OpUpdate, &schema.ScheduleEntry{ID: "1"})
	require.NoError(t, err)
	return msg
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message on %s", sub.ClientID)
		return Message{}
	}
}

func assertNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("client %s unexpectedly received %s", sub.ClientID, msg.ID)
	default:
	}
}

func TestHub_ExcludesOrigin(t *testing.T) {
	hub := quietHub(HubConfig{})
	a := hub.Subscribe(DefaultTopic, "a")
	b := hub.Subscribe(DefaultTopic, "b")
	c := hub.Subscribe(DefaultTopic, "c")

	msg := testMessage(t, "a")
	require.NoError(t, hub.Publish(context.Background(), msg))

	assert.Equal(t, msg.ID, receive(t, b).ID)
	assert.Equal(t, msg.ID, receive(t, c).ID)
	assertNothing(t, a)
}

func TestHub_ServerOriginsReachEveryone(t *testing.T) {
	hub := quietHub(HubConfig{})
	a := hub.Subscribe(DefaultTopic, "a")
	b := hub.Subscribe(DefaultTopic, "b")

	require.NoError(t, hub.Publish(context.Background(), testMessage(t, OriginCascade)))
	receive(t, a)
	receive(t, b)
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	hub := quietHub(HubConfig{})
	room := hub.Subscribe(DefaultTopic, "a")
	other := hub.Subscribe("other-room", "b")

	require.NoError(t, hub.Publish(context.Background(), testMessage(t, "x")))
	receive(t, room)
	assertNothing(t, other)
	assert.Equal(t, 1, hub.ClientCount(DefaultTopic))
	assert.Equal(t, 1, hub.ClientCount("other-room"))
}

func TestHub_AtMostOnce(t *testing.T) {
	hub := quietHub(HubConfig{DedupeWindow: 2})
	sub := hub.Subscribe(DefaultTopic, "a")

	msg := testMessage(t, "x")
	require.NoError(t, hub.Publish(context.Background(), msg))
	require.NoError(t, hub.Publish(context.Background(), msg))

	receive(t, sub)
	assertNothing(t, sub)
}

func TestHub_DedupeWindowEvicts(t *testing.T) {
	hub := quietHub(HubConfig{DedupeWindow: 1})
	sub := hub.Subscribe(DefaultTopic, "a")
	ctx := context.Background()

	first := testMessage(t, "x")
	require.NoError(t, hub.Publish(ctx, first))
	require.NoError(t, hub.Publish(ctx, testMessage(t, "x")))
	require.NoError(t, hub.Publish(ctx, first))

	receive(t, sub)
	receive(t, sub)
	assert.Equal(t, first.ID, receive(t, sub).ID)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := quietHub(HubConfig{SubscriberBuffer: 1})
	slow := hub.Subscribe(DefaultTopic, "slow")
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, testMessage(t, "x")))
	require.NoError(t, hub.Publish(ctx, testMessage(t, "x")))

	receive(t, slow)
	assertNothing(t, slow)
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	hub := quietHub(HubConfig{})
	sub := hub.Subscribe("", "a")
	assert.Equal(t, DefaultTopic, sub.Topic)
	assert.Equal(t, 1, hub.ClientCount(DefaultTopic))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.ClientCount(DefaultTopic))

	_, ok := <-sub.Messages()
	assert.False(t, ok)

	require.NoError(t, hub.Publish(context.Background(), testMessage(t, "x")))
}

func TestHub_RejectsInvalid(t *testing.T) {
	hub := quietHub(HubConfig{})
	err := hub.Publish(context.Background(), Message{Entity: "nope", Op: OpCreate})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, hub.Publish(ctx, testMessage(t, "x")), context.Canceled)
}

func TestHub_ConcurrentPublishAndLeave(t *testing.T) {
	hub := quietHub(HubConfig{SubscriberBuffer: 8})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe(DefaultTopic, "member")
			for j := 0; j < 20; j++ {
				msg, _ := NewMessage("x", schema.EntityPost, OpDelete, DeletePayload{ID: "1"})
				_ = hub.Publish(ctx, msg)
			}
			sub.Close()
		}()
	}
	wg.Wait()
	hub.Close()
	assert.Equal(t, 0, hub.ClientCount(DefaultTopic))
}
