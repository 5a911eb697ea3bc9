package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/satonic/nftledger/internal/config"
	"github.com/satonic/nftledger/internal/models"
)

// RedisPublisher publishes events as JSON on a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher for the configured server
func NewRedisPublisher(cfg config.RedisConfig) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
	}
}

// Ping checks the connection
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish sends the event as JSON
func (p *RedisPublisher) Publish(ctx context.Context, e models.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}

// Watch delivers events published on the channel to handle until ctx is
// done. Messages that are not events are skipped.
func (p *RedisPublisher) Watch(ctx context.Context, handle func(models.Event)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			handle(e)
		}
	}
}

// Close closes the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
