package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores outcomes with SET NX so the first committed outcome wins.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis builds a cache under prefix. An empty prefix uses "seatcheck:idem:".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "seatcheck:idem:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: redis get: %w", err)
	}
	return b, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.SetNX(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis set: %w", err)
	}
	return nil
}
