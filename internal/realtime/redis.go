package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// wireEvent is the pub/sub frame shared by all api processes.
type wireEvent struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RedisBroadcaster fans events out across processes. Broadcast publishes to
// a shared channel; every process (including the publisher) runs Relay and
// delivers received events to its own local hub. Connections pinned to other
// instances see the event that way.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

func NewRedisBroadcaster(client *redis.Client, channel string, hub *Hub) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel, hub: hub}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, room, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(wireEvent{Room: room, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}
	if err := b.client.Publish(ctx, b.channel, frame).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// Relay subscribes to the shared channel and delivers each event to the
// local hub. Blocks until ctx is cancelled; run it in its own goroutine.
func (b *RedisBroadcaster) Relay(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("realtime: bad relay frame: %v", err)
				continue
			}
			if err := b.hub.Broadcast(ctx, ev.Room, ev.Event, ev.Data); err != nil {
				log.Printf("realtime: relay delivery failed: %v", err)
			}
		}
	}
}
