// Package lock provides a best-effort lock shared between replicas so that
// only one of them fills a cache miss at a time.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Locker acquires a named lock for at most ttl. Acquire reports false without
// an error when the lock is held elsewhere. The returned release func is
// never nil.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (acquired bool, release func(), err error)
}

func noopRelease() {}

// Noop always acquires. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	return true, noopRelease, nil
}

const keyPrefix = "subpulse:lock:"

// Only deletes the key if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// NewRedisFromURL parses a redis:// url and checks the server is reachable
func NewRedisFromURL(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.WithFields(log.Fields{
		"addr": opts.Addr,
	}).Info("Connected to Redis")

	return NewRedis(client), nil
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	token, err := newToken()
	if err != nil {
		return false, noopRelease, err
	}

	key = keyPrefix + key
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, noopRelease, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return false, noopRelease, nil
	}

	release := func() {
		// The request context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			log.WithFields(log.Fields{
				"key":   key,
				"error": err,
			}).Warn("Failed to release lock")
		}
	}

	return true, release, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
