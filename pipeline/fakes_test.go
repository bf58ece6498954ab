package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"subpulse/classifier"
	"subpulse/feed"
	"subpulse/models"
	"sync"
	"sync/atomic"
	"time"
)

type memStore struct {
	mu         sync.Mutex
	items      map[string]map[string]models.Item
	classified map[string]map[string]models.ClassifiedItem

	findErr   error
	insertErr error

	finds             atomic.Int32
	itemInserts       atomic.Int32
	classifiedInserts atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{
		items:      map[string]map[string]models.Item{},
		classified: map[string]map[string]models.ClassifiedItem{},
	}
}

func (s *memStore) FindFreshItems(ctx context.Context, channel string, window time.Duration, now time.Time) ([]models.Item, error) {
	s.finds.Add(1)
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Item
	for _, item := range s.items[channel] {
		if !item.StoredAt.Before(now.Add(-window)) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) FindFreshClassifiedItems(ctx context.Context, channel string, window time.Duration, now time.Time) ([]models.ClassifiedItem, error) {
	s.finds.Add(1)
	if s.findErr != nil {
		return nil, s.findErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ClassifiedItem
	for _, item := range s.classified[channel] {
		if !item.StoredAt.Before(now.Add(-window)) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) InsertItems(ctx context.Context, channel string, items []models.Item, now time.Time) error {
	s.itemInserts.Add(1)
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items[channel] == nil {
		s.items[channel] = map[string]models.Item{}
	}
	for _, item := range items {
		item.StoredAt = now
		s.items[channel][item.ExternalId] = item
	}
	return nil
}

func (s *memStore) InsertClassifiedItems(ctx context.Context, channel string, items []models.ClassifiedItem, now time.Time) error {
	s.classifiedInserts.Add(1)
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.classified[channel] == nil {
		s.classified[channel] = map[string]models.ClassifiedItem{}
	}
	for _, item := range items {
		item.StoredAt = now
		s.classified[channel][item.ExternalId] = item
	}
	return nil
}

func (s *memStore) countItems(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[channel])
}

func (s *memStore) countClassified(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.classified[channel])
}

type fakeFetcher struct {
	items []models.Item
	err   error
	// When set, FetchRecent blocks until it is closed
	gate chan struct{}

	calls     atomic.Int32
	lastSort  feed.Sort
	lastLimit int
	mu        sync.Mutex
}

func (f *fakeFetcher) FetchRecent(ctx context.Context, channel string, sort feed.Sort, limit int) ([]models.Item, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastSort, f.lastLimit = sort, limit
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Item(nil), f.items...), nil
}

// fakeClassifier rejects items whose title contains "reject" and flags
// everything else as an advice request
type fakeClassifier struct {
	calls atomic.Int32
	block bool
}

func (c *fakeClassifier) Classify(ctx context.Context, title, body string) (models.Classification, error) {
	c.calls.Add(1)
	if c.block {
		<-ctx.Done()
		return models.Classification{}, fmt.Errorf("%w: %w", classifier.ErrClassificationInvalid, ctx.Err())
	}
	if strings.Contains(title, "reject") {
		return models.Classification{}, fmt.Errorf("%w: not json", classifier.ErrClassificationInvalid)
	}
	return models.Classification{AdviceRequests: true, MoneyTalk: strings.Contains(body, "$")}, nil
}

type heldLocker struct {
	err      error
	attempts atomic.Int32
}

func (l *heldLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	l.attempts.Add(1)
	return false, func() {}, l.err
}

// freedLocker always acquires and runs before on the first attempt
type freedLocker struct {
	before   func()
	once     sync.Once
	releases atomic.Int32
}

func (l *freedLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	l.once.Do(l.before)
	return true, func() { l.releases.Add(1) }, nil
}

var errBoom = errors.New("boom")
