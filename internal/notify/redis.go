package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// channelFor returns the redis pub/sub channel carrying one user's events.
func channelFor(userID uuid.UUID) string {
	return "verbatim:events:" + userID.String()
}

// Bus publishes and subscribes events over redis pub/sub. All methods are
// safe for concurrent use.
type Bus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewBus creates a Bus on an existing redis client. logger may be nil, in
// which case [slog.Default] is used.
func NewBus(rdb *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rdb: rdb, log: logger}
}

// Publish pushes an event to the owning user's channel. Failures are logged
// and swallowed: notifications are best-effort and must never fail the
// pipeline work that produced them.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("notify: marshal event", "type", ev.Type, "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, channelFor(ev.UserID), raw).Err(); err != nil {
		b.log.Warn("notify: publish failed",
			"type", ev.Type,
			"user_id", ev.UserID,
			"error", err)
	}
}

// Subscription is a live event stream for one user. Close it when the
// consumer disconnects.
type Subscription struct {
	events <-chan Event
	pubsub *redis.PubSub
}

// Events returns the stream. The channel is closed when the subscription is
// closed or the subscribing context ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close tears the redis subscription down.
func (s *Subscription) Close() error { return s.pubsub.Close() }

// Subscribe opens an event stream for the user. Undecodable messages are
// logged and skipped so one bad publisher cannot wedge every listener.
func (b *Bus) Subscribe(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channelFor(userID))

	// Force the subscription onto the wire before returning so callers can
	// publish immediately after Subscribe without racing it.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("notify: subscribe %s: %w", userID, err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("notify: drop undecodable event", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{events: events, pubsub: pubsub}, nil
}
