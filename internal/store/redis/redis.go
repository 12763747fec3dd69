// Package redis implements [store.IdempotencyGuard] with Redis SET NX.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/elocution/internal/store"
)

// DefaultPrefix namespaces idempotency keys in a shared Redis database.
const DefaultPrefix = "elocution:idempotency:"

// Option configures a [Guard].
type Option func(*Guard)

// WithPrefix overrides [DefaultPrefix].
func WithPrefix(prefix string) Option {
	return func(g *Guard) {
		g.prefix = prefix
	}
}

// WithClock sets the time source used for the stored claim timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// Guard claims idempotency keys in Redis. Expiry is delegated to Redis, so
// claims from every replica sharing the database are honoured.
type Guard struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.IdempotencyGuard = (*Guard)(nil)

// New wraps an existing client.
func New(client goredis.UniversalClient, opts ...Option) *Guard {
	g := &Guard{client: client, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Open connects to the Redis server at addr and verifies connectivity.
func Open(ctx context.Context, addr, password string, db int, opts ...Option) (*Guard, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis guard: ping %s: %w", addr, err)
	}
	return New(client, opts...), nil
}

// Claim implements [store.IdempotencyGuard]. A non-positive ttl claims the
// key without expiry.
func (g *Guard) Claim(ctx context.Context, key string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := g.client.SetNX(ctx, g.prefix+key, g.now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis guard: claim %q: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: key %q", store.ErrDuplicate, key)
	}
	return nil
}

// Release implements [store.IdempotencyGuard]. Releasing an unknown key is
// not an error.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis guard: release %q: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity.
func (g *Guard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (g *Guard) Close() error {
	return g.client.Close()
}
