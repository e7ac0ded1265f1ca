package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the Redis pub/sub channel used when the config does
// not name one.
const DefaultRedisChannel = "voice.events"

// RedisPublisher delivers events as JSON payloads over Redis pub/sub.
// Delivery is fire-and-forget: there is no acknowledgement and subscribers
// that are offline miss events, which matches the bus's best-effort contract.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to the Redis server at addr and verifies the
// connection with a ping. channel empty selects [DefaultRedisChannel].
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("events: redis ping %q: %w", addr, err)
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish marshals the event to JSON and PUBLISHes it on the configured
// channel.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Ensure RedisPublisher implements Publisher at compile time.
var _ Publisher = (*RedisPublisher)(nil)
