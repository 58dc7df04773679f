// Package lock provides the leader lock that keeps scheduler cycles from
// running on more than one replica at a time.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Locker interface {
	// Acquire reports whether the caller now holds key. The returned release
	// func is safe to call when ok is false.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisClient builds a client from a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("NewRedisClient: parse url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewRedisClient: ping: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("Acquire: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token)
	}
	return release, true, nil
}

// FromURL returns a Redis backed locker when url is set and reachable, and
// a NopLocker otherwise. The returned func closes the Redis client.
func FromURL(ctx context.Context, url, prefix string) (Locker, func()) {
	if url == "" {
		return NopLocker{}, func() {}
	}
	client, err := NewRedisClient(ctx, url)
	if err != nil {
		slog.Warn("redis unavailable, schedulers run without a leader lock", "error", err)
		return NopLocker{}, func() {}
	}
	return NewRedisLocker(client, prefix), func() { client.Close() }
}
