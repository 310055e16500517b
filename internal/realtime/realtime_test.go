package realtime

import (
	"context"
	"testing"
	"time"

	"resqtail/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	first, unsubscribeFirst := hub.Subscribe()
	second, unsubscribeSecond := hub.Subscribe()
	defer unsubscribeSecond()
	assert.Equal(t, 2, hub.Subscribers())

	require.NoError(t, hub.Broadcast(context.Background(), "new_report", map[string]string{"report_id": "r1"}))

	for _, ch := range []<-chan Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, "new_report", ev.Name)
			assert.JSONEq(t, `{"report_id":"r1"}`, string(ev.Data))
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsubscribeFirst()
	unsubscribeFirst()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-first
	assert.False(t, open)
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(Event{Name: "tick"})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe()

	hub.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
	assert.NotPanics(t, unsubscribe)

	late, _ := hub.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestRedisBroadcaster_Relay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- Relay(ctx, rdb, DefaultChannel, hub, logger.Discard()) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	broadcaster := NewRedisBroadcaster(rdb, "")
	require.NoError(t, broadcaster.Broadcast(ctx, "new_report", map[string]string{"description": "Injured owl"}))

	select {
	case ev := <-events:
		assert.Equal(t, "new_report", ev.Name)
		assert.JSONEq(t, `{"description":"Injured owl"}`, string(ev.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not forward the event")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
