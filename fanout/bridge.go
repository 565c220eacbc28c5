package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"botstore/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel instances share events on.
const Channel = "order-events"

type envelope struct {
	Origin string       `json:"origin"`
	Event  models.Event `json:"event"`
}

// Bridge connects the local hub to every other instance through Redis.
// Local events are delivered to the hub and queued for Redis; events from
// other instances are delivered to the hub only.
type Bridge struct {
	hub    *Hub
	client *redis.Client
	origin string
	log    *slog.Logger

	out   chan []byte
	ready chan struct{}
	once  sync.Once
}

func NewBridge(hub *Hub, client *redis.Client, queue int, log *slog.Logger) *Bridge {
	if queue <= 0 {
		queue = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		hub:    hub,
		client: client,
		origin: uuid.NewString(),
		log:    log,
		out:    make(chan []byte, queue),
		ready:  make(chan struct{}),
	}
}

func (b *Bridge) Publish(ev models.Event) {
	b.hub.Publish(ev)
	data, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		b.log.Error("fanout encode failed", "err", err)
		return
	}
	select {
	case b.out <- data:
	default:
		b.log.Warn("fanout relay queue full, event not relayed", "event", ev.Key())
	}
}

// Ready is closed once the Redis subscription is confirmed.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Run subscribes to Channel and relays in both directions until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	b.log.Info("fanout bridge listening", "channel", Channel, "origin", b.origin)
	// a resubscribe after failure reuses the relay started by the first Run
	b.once.Do(func() {
		close(b.ready)
		go b.relayOut(ctx)
	})

	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("fanout bridge: bad payload", "err", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.hub.Publish(env.Event)
		}
	}
}

func (b *Bridge) relayOut(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-b.out:
			if err := b.client.Publish(ctx, Channel, data).Err(); err != nil {
				b.log.Warn("fanout bridge: publish failed", "err", err)
			}
		}
	}
}
