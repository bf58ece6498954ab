// Package feed fetches posts for a channel from the feed source and
// normalizes them into models.Item. It does no caching and no classification.
package feed

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"subpulse/models"
)

var (
	// ErrFeedUnavailable is returned for transport, auth and decode failures
	ErrFeedUnavailable = errors.New("feed unavailable")

	// ErrInvalidRequest is returned before any network call for a bad channel or limit
	ErrInvalidRequest = errors.New("invalid feed request")
)

const MaxLimit = 100

// Sort is the listing order requested from the source
type Sort string

const (
	SortNew Sort = "new"
	SortTop Sort = "top" // Restricted to the past day
	SortHot Sort = "hot"
)

func ParseSort(s string) (Sort, error) {
	switch Sort(s) {
	case SortNew, SortTop, SortHot:
		return Sort(s), nil
	}
	return "", fmt.Errorf("%w: unknown sort %q", ErrInvalidRequest, s)
}

// Fetcher returns up to limit recent items for a channel in source order
type Fetcher interface {
	FetchRecent(ctx context.Context, channel string, sort Sort, limit int) ([]models.Item, error)
}

var channelPattern = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

func ValidateChannel(channel string) error {
	if !channelPattern.MatchString(channel) {
		return fmt.Errorf("%w: invalid channel %q", ErrInvalidRequest, channel)
	}
	return nil
}

func validate(channel string, sort Sort, limit int) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	if limit < 1 || limit > MaxLimit {
		return fmt.Errorf("%w: limit %d out of range [1, %d]", ErrInvalidRequest, limit, MaxLimit)
	}
	if _, err := ParseSort(string(sort)); err != nil {
		return err
	}
	return nil
}
