package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Archan-07/my-chat-app/pkg/log"
)

// RedisBus implements Bus on top of Redis pub/sub. Each subscription owns
// its own *redis.PubSub, so closing one room's subscription never disturbs
// another's.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus connects to Redis and returns a bus, or an error if the
// server is unreachable.
func NewRedisBus(cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{client: client}, nil
}

// Publish publishes an event to the specified channel.
func (r *RedisBus) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a channel and starts pumping events.
func (r *RedisBus) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)

	// Force the subscription to be established before returning, so no
	// event published after Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventCh := make(chan *Event, 100)
	go pumpRedisMessages(ps, channel, eventCh)

	return &Subscription{
		Channel: channel,
		C:       eventCh,
		cancel:  ps.Close,
	}, nil
}

// Unsubscribe closes the subscription; its event channel is closed once the
// pump drains.
func (r *RedisBus) Unsubscribe(_ context.Context, sub *Subscription) error {
	return sub.close()
}

// Close closes the Redis client. Open subscriptions are terminated.
func (r *RedisBus) Close() error {
	return r.client.Close()
}

func pumpRedisMessages(ps *redis.PubSub, channel string, eventCh chan<- *Event) {
	defer close(eventCh)

	for msg := range ps.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.L().Warn().Err(err).Str(log.FieldChannel, channel).Msg("dropping malformed bus event")
			continue
		}

		select {
		case eventCh <- &event:
		default:
			// Subscriber is not keeping up; drop rather than block the pump.
			log.L().Warn().Str(log.FieldChannel, channel).Str(log.FieldEventType, event.Type).Msg("subscriber backlog full, event dropped")
		}
	}
}
