// Package pipeline serves posts and classified posts for a channel from the
// cache store, filling the cache from the feed on a miss.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"subpulse/feed"
	"subpulse/lock"
	"subpulse/models"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned for channels outside the configured allow-list
var ErrNotFound = errors.New("channel not found")

// Store is the cache store as seen by the pipeline
type Store interface {
	FindFreshItems(ctx context.Context, channel string, window time.Duration, now time.Time) ([]models.Item, error)
	FindFreshClassifiedItems(ctx context.Context, channel string, window time.Duration, now time.Time) ([]models.ClassifiedItem, error)
	InsertItems(ctx context.Context, channel string, items []models.Item, now time.Time) error
	InsertClassifiedItems(ctx context.Context, channel string, items []models.ClassifiedItem, now time.Time) error
}

type Classifier interface {
	Classify(ctx context.Context, title, body string) (models.Classification, error)
}

type Options struct {
	Window time.Duration

	PostsSort  feed.Sort
	PostsLimit int

	ClassifiedSort  feed.Sort
	ClassifiedLimit int

	// Empty allows every channel
	Channels []string

	// Cross-replica miss lock. Waiting longer than LockWait proceeds without the lock.
	LockTTL  time.Duration
	LockWait time.Duration

	// Bounds a miss execution. It is shared by every caller waiting on the
	// same channel, so it outlives the caller that started it.
	FillTimeout time.Duration

	Clock func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Window:          24 * time.Hour,
		PostsSort:       feed.SortTop,
		PostsLimit:      100,
		ClassifiedSort:  feed.SortNew,
		ClassifiedLimit: 10,
		LockTTL:         2 * time.Minute,
		LockWait:        30 * time.Second,
		FillTimeout:     3 * time.Minute,
		Clock:           time.Now,
	}
}

type Pipeline struct {
	store      Store
	fetcher    feed.Fetcher
	classifier Classifier
	locker     lock.Locker
	opts       Options
	allowed    map[string]bool
	group      singleflight.Group

	// Set when the locker coordinates with other replicas
	sharedLock bool
}

// New builds a pipeline. Zero option values fall back to DefaultOptions and a
// nil locker disables the cross-replica lock.
func New(store Store, fetcher feed.Fetcher, classifier Classifier, locker lock.Locker, opts Options) *Pipeline {
	defaults := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.PostsSort == "" {
		opts.PostsSort = defaults.PostsSort
	}
	if opts.PostsLimit <= 0 {
		opts.PostsLimit = defaults.PostsLimit
	}
	if opts.ClassifiedSort == "" {
		opts.ClassifiedSort = defaults.ClassifiedSort
	}
	if opts.ClassifiedLimit <= 0 {
		opts.ClassifiedLimit = defaults.ClassifiedLimit
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaults.LockTTL
	}
	if opts.LockWait <= 0 {
		opts.LockWait = defaults.LockWait
	}
	if opts.FillTimeout <= 0 {
		opts.FillTimeout = defaults.FillTimeout
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	_, noop := locker.(lock.Noop)

	var allowed map[string]bool
	if len(opts.Channels) > 0 {
		allowed = lo.SliceToMap(opts.Channels, func(c string) (string, bool) {
			return models.NormalizeChannel(c), true
		})
	}

	return &Pipeline{
		store:      store,
		fetcher:    fetcher,
		classifier: classifier,
		locker:     locker,
		opts:       opts,
		allowed:    allowed,
		sharedLock: !noop,
	}
}

// GetCachedOrFreshPosts returns the channel's posts ordered by score, from
// the cache when fresh and from the feed otherwise
func (p *Pipeline) GetCachedOrFreshPosts(ctx context.Context, channel string) ([]models.Item, error) {
	return run(ctx, p, models.KindItems, channel, request[models.Item]{
		find: func(ctx context.Context, channel string, now time.Time) ([]models.Item, error) {
			return p.store.FindFreshItems(ctx, channel, p.opts.Window, now)
		},
		fill: p.fillItems,
		sort: models.SortItems,
	})
}

// GetCachedOrFreshClassifiedPosts returns the channel's classified posts,
// newest first. Each item is classified at most once per window.
func (p *Pipeline) GetCachedOrFreshClassifiedPosts(ctx context.Context, channel string) ([]models.ClassifiedItem, error) {
	return run(ctx, p, models.KindClassified, channel, request[models.ClassifiedItem]{
		find: func(ctx context.Context, channel string, now time.Time) ([]models.ClassifiedItem, error) {
			return p.store.FindFreshClassifiedItems(ctx, channel, p.opts.Window, now)
		},
		fill: p.fillClassifiedItems,
		sort: models.SortClassifiedItems,
	})
}

// GetThemes groups the channel's classified posts by category
func (p *Pipeline) GetThemes(ctx context.Context, channel string) ([]models.Theme, error) {
	items, err := p.GetCachedOrFreshClassifiedPosts(ctx, channel)
	if err != nil {
		return nil, err
	}
	return models.GroupByCategory(items), nil
}

type request[T any] struct {
	find func(ctx context.Context, channel string, now time.Time) ([]T, error)
	fill func(ctx context.Context, runId string, channel string, now time.Time) ([]T, error)
	sort func([]T)
}

func (p *Pipeline) checkChannel(channel string) (string, error) {
	if err := feed.ValidateChannel(channel); err != nil {
		return "", err
	}
	channel = models.NormalizeChannel(channel)
	if p.allowed != nil && !p.allowed[channel] {
		return "", fmt.Errorf("%w: %s", ErrNotFound, channel)
	}
	return channel, nil
}

func run[T any](ctx context.Context, p *Pipeline, kind models.Kind, channel string, req request[T]) ([]T, error) {
	start := time.Now()

	channel, err := p.checkChannel(channel)
	if err != nil {
		return nil, err
	}

	runId := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"runId":   runId,
		"kind":    kind,
		"channel": channel,
	})

	cached, err := req.find(ctx, channel, p.opts.Clock())
	if err != nil {
		logger.WithError(err).Error("Failed to read cache")
		return nil, err
	}

	if len(cached) > 0 {
		cacheRequests.WithLabelValues(string(kind), "hit").Inc()
		req.sort(cached)
		pipelineDuration.WithLabelValues(string(kind), "cached").Observe(time.Since(start).Seconds())
		logger.WithField("count", len(cached)).Info("Serving from cache")
		return cached, nil
	}

	cacheRequests.WithLabelValues(string(kind), "miss").Inc()
	logger.Info("Cache miss")

	// Concurrent misses for the same channel share one execution. It must not
	// be cancelled when the caller that started it goes away.
	ch := p.group.DoChan(string(kind)+":"+channel, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.FillTimeout)
		defer cancel()
		return fillLocked(fillCtx, p, kind, runId, channel, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			sharedMisses.WithLabelValues(string(kind)).Inc()
		}
		pipelineDuration.WithLabelValues(string(kind), "fresh").Observe(time.Since(start).Seconds())
		// Shared results are copied so callers can't affect each other
		return slices.Clone(res.Val.([]T)), nil
	}
}

// fillLocked runs the miss path under the cross-replica lock. If another
// replica is filling the same channel it waits for the cache instead.
func fillLocked[T any](ctx context.Context, p *Pipeline, kind models.Kind, runId, channel string, req request[T]) ([]T, error) {
	cached, release, err := awaitLock(ctx, p, string(kind)+":"+channel, func(ctx context.Context) ([]T, error) {
		return req.find(ctx, channel, p.opts.Clock())
	})
	defer release()
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		req.sort(cached)
		return cached, nil
	}

	items, err := req.fill(ctx, runId, channel, p.opts.Clock())
	if err != nil {
		return nil, err
	}
	req.sort(items)
	return items, nil
}

func (p *Pipeline) fillItems(ctx context.Context, runId string, channel string, now time.Time) ([]models.Item, error) {
	logger := log.WithFields(log.Fields{
		"runId":   runId,
		"kind":    models.KindItems,
		"channel": channel,
	})

	fetched, err := p.fetch(ctx, models.KindItems, channel, p.opts.PostsSort, p.opts.PostsLimit)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch posts")
		return nil, err
	}

	if len(fetched) == 0 {
		logger.Info("Feed returned no posts")
		return []models.Item{}, nil
	}

	if err := p.store.InsertItems(ctx, channel, fetched, now); err != nil {
		logger.WithError(err).Error("Failed to persist posts")
		return nil, err
	}
	persistedItems.WithLabelValues(string(models.KindItems)).Add(float64(len(fetched)))

	for i := range fetched {
		fetched[i].StoredAt = now
	}

	logger.WithField("count", len(fetched)).Info("Stored fresh posts")
	return fetched, nil
}

func (p *Pipeline) fillClassifiedItems(ctx context.Context, runId string, channel string, now time.Time) ([]models.ClassifiedItem, error) {
	logger := log.WithFields(log.Fields{
		"runId":   runId,
		"kind":    models.KindClassified,
		"channel": channel,
	})

	fetched, err := p.fetch(ctx, models.KindClassified, channel, p.opts.ClassifiedSort, p.opts.ClassifiedLimit)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch posts")
		return nil, err
	}

	if len(fetched) == 0 {
		logger.Info("Feed returned no posts")
		return []models.ClassifiedItem{}, nil
	}

	classified, err := p.classifyEach(ctx, logger, fetched, now)
	if err != nil {
		return nil, err
	}

	if len(classified) == 0 {
		logger.Warn("No post could be classified")
		return []models.ClassifiedItem{}, nil
	}

	if err := p.store.InsertClassifiedItems(ctx, channel, classified, now); err != nil {
		logger.WithError(err).Error("Failed to persist classified posts")
		return nil, err
	}
	persistedItems.WithLabelValues(string(models.KindClassified)).Add(float64(len(classified)))

	for i := range classified {
		classified[i].StoredAt = now
	}

	logger.WithFields(log.Fields{
		"count":   len(classified),
		"dropped": len(fetched) - len(classified),
	}).Info("Stored fresh classified posts")
	return classified, nil
}

func (p *Pipeline) fetch(ctx context.Context, kind models.Kind, channel string, sort feed.Sort, limit int) ([]models.Item, error) {
	items, err := p.fetcher.FetchRecent(ctx, channel, sort, limit)
	if err != nil {
		fetchErrors.WithLabelValues(string(kind)).Inc()
		return nil, err
	}
	return lo.UniqBy(items, func(item models.Item) string { return item.ExternalId }), nil
}
