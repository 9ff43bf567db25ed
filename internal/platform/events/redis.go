package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
)

// DefaultChannel is the Pub/Sub channel events are broadcast on.
const DefaultChannel = "codebox:events"

// Redis broadcasts events over Redis Pub/Sub, so several API instances can follow
// requests executed by any one of them.
type Redis struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

// Check if Redis implements domain.EventBroker
var _ domain.EventBroker = (*Redis)(nil)

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, channel string, logger zerolog.Logger) (*Redis, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{
		client:  rdb,
		channel: channel,
		log:     logger.With().Str("component", "events").Str("channel", channel).Logger(),
	}, nil
}

func (r *Redis) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Error().Err(err).Msg("failed to unmarshal event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
