// Package rdx wraps the Redis client shared by the cache tier and the event bridge.
package rdx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect builds a client and pings it once so a bad address fails at startup.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Tier is the distributed cache tier. Keys are written with a TTL so a lost
// invalidation heals on its own.
type Tier struct {
	client redis.Cmdable
}

func NewTier(client redis.Cmdable) *Tier {
	return &Tier{client: client}
}

func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (t *Tier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.client.Set(ctx, key, value, ttl).Err()
}

func (t *Tier) Del(ctx context.Context, key string) error {
	return t.client.Del(ctx, key).Err()
}
