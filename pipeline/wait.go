package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

var errLockHeld = errors.New("lock held by another replica")

func noRelease() {}

// awaitLock acquires the miss lock for key. While another replica holds it the
// cache is polled with exponential backoff. It returns early with the cached
// records if the other replica filled the cache, and gives up on the lock once
// LockWait has passed. Lock failures are logged and never returned. The
// release func is never nil.
func awaitLock[T any](ctx context.Context, p *Pipeline, key string, find func(ctx context.Context) ([]T, error)) ([]T, func(), error) {
	logger := log.WithField("lock", key)

	var cached []T
	release := noRelease
	attempts := 0

	operation := func() error {
		attempts++
		if attempts > 1 {
			records, err := find(ctx)
			if err != nil {
				return backoff.Permanent(err)
			}
			if len(records) > 0 {
				cached = records
				return nil
			}
		}

		acquired, rel, err := p.locker.Acquire(ctx, key, p.opts.LockTTL)
		if err != nil {
			logger.WithError(err).Warn("Lock unavailable, continuing without it")
			return nil
		}
		if !acquired {
			return errLockHeld
		}
		release = rel

		// A replica may have filled the cache and released the lock since
		// the last read
		if p.sharedLock {
			records, err := find(ctx)
			if err != nil {
				rel()
				release = noRelease
				return backoff.Permanent(err)
			}
			cached = records
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.Multiplier = 1.5
	b.MaxElapsedTime = p.opts.LockWait

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return cached, release, nil
	case errors.Is(err, errLockHeld):
		logger.WithField("waited", p.opts.LockWait).Warn("Gave up waiting for lock, continuing without it")
		return nil, noRelease, nil
	default:
		return nil, noRelease, err
	}
}
