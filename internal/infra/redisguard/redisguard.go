// Package redisguard implements the idempotency guard on Redis SETNX.
// A reservation lost means some other process already claimed the side
// effect within the TTL window.
package redisguard

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Guard implements port.IdempotencyGuard.
type Guard struct {
	client *goredis.Client
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*Guard, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Guard{client: client}, nil
}

// Reserve claims key for ttl. It returns false when another caller holds
// the reservation already.
func (g *Guard) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserving %q: %w", key, err)
	}
	return ok, nil
}

// Ping reports guard health for the readiness probe.
func (g *Guard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (g *Guard) Close() error {
	return g.client.Close()
}
