package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisBroadcasterRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	registry := NewRegistry()
	hub := NewHub(registry)
	b := NewRedisBroadcaster(client, "taskboard:events", hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Relay(ctx)

	// Wait for the relay subscription before publishing, or the event is
	// dropped with no subscribers.
	waitFor(t, func() bool {
		counts, err := client.PubSubNumSub(ctx, "taskboard:events").Result()
		return err == nil && counts["taskboard:events"] == 1
	}, "relay never subscribed")

	c, clientEnd := attachPipe(t, hub, "u1")
	hub.JoinBoard(c, "b1")

	if err := b.Broadcast(ctx, BoardRoom("b1"), "taskCreated", map[string]string{"id": "task-1"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	env := readEvent(t, clientEnd)
	if env.Event != "taskCreated" {
		t.Fatalf("expected taskCreated, got %s", env.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["id"] != "task-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestRedisBroadcasterStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedisBroadcaster(client, "taskboard:events", NewHub(NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Relay(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
