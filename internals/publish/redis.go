package publish

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/thebowwman/delisim/internals/domain"
)

// RedisSink publishes updates on a per-delivery Redis pub/sub channel.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(url string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis sink: parse url: %w", err)
	}
	return &RedisSink{client: redis.NewClient(opts)}, nil
}

// Channel is the pub/sub channel for a delivery's updates.
func Channel(deliveryID string) string {
	return "delivery:" + deliveryID + ":location"
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisSink) Send(ctx context.Context, u domain.LocationUpdate, payload []byte) error {
	if err := r.client.Publish(ctx, Channel(u.DeliveryID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisSink) Close() error { return r.client.Close() }
