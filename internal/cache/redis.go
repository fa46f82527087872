// Package cache wraps the Redis key/value store and its named lock
// primitive used to serialize the aggregate rebuild across processes.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireRetryDelay is the pause between lock acquisition attempts while
// waiting out the blocking window.
const acquireRetryDelay = 100 * time.Millisecond

// releaseScript deletes the lock key only when it still holds our token,
// so an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a thin client over one Redis connection pool.
type Redis struct {
	rdb *redis.Client
}

// New connects to the Redis instance at url (redis:// form) and verifies
// the connection.
func New(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &Redis{rdb: rdb}, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Set stores value under key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// Get fetches the value stored under key, or nil when absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

// Acquire takes the named lock, waiting up to wait for it to become free.
// The lock auto-expires after hold. It returns a release func and whether
// the lock was acquired; not acquiring within the window is a normal
// outcome, not an error.
func (r *Redis) Acquire(ctx context.Context, name string, wait, hold time.Duration) (func(), bool, error) {
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return nil, false, err
	}
	value := hex.EncodeToString(token)

	deadline := time.Now().Add(wait)
	for {
		ok, err := r.rdb.SetNX(ctx, name, value, hold).Result()
		if err != nil {
			return nil, false, err
		}
		if ok {
			release := func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, r.rdb, []string{name}, value).Err()
			}
			return release, true, nil
		}

		if time.Now().After(deadline) {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(acquireRetryDelay):
		}
	}
}
