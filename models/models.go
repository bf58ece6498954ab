package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects which cached record shape a request is about
type Kind string

const (
	KindItems      Kind = "items"
	KindClassified Kind = "classifiedItems"
)

var ErrInvalidItem = errors.New("invalid item")

// Item is a single post from the feed source, normalized
type Item struct {
	ExternalId   string    `json:"id"`
	Channel      string    `json:"channel"`
	Title        string    `json:"title"`
	Body         string    `json:"content"`
	ExternalUrl  string    `json:"url"`
	Score        int       `json:"score"`
	CommentCount int       `json:"numComments"`
	CreatedAt    time.Time `json:"createdAt"`

	// Set by the store, zero until the item has been persisted
	StoredAt time.Time `json:"-"`
}

// NewItem validates the fields and returns an Item with a lower-cased channel
func NewItem(externalId, channel, title, body, externalUrl string, score, commentCount int, createdAt time.Time) (Item, error) {
	channel = NormalizeChannel(channel)

	switch {
	case strings.TrimSpace(externalId) == "":
		return Item{}, fmt.Errorf("%w: missing external id", ErrInvalidItem)
	case channel == "":
		return Item{}, fmt.Errorf("%w: missing channel for %s", ErrInvalidItem, externalId)
	case strings.TrimSpace(title) == "":
		return Item{}, fmt.Errorf("%w: missing title for %s", ErrInvalidItem, externalId)
	case commentCount < 0:
		return Item{}, fmt.Errorf("%w: negative comment count for %s", ErrInvalidItem, externalId)
	case createdAt.IsZero():
		return Item{}, fmt.Errorf("%w: missing creation time for %s", ErrInvalidItem, externalId)
	}

	return Item{
		ExternalId:   externalId,
		Channel:      channel,
		Title:        title,
		Body:         body,
		ExternalUrl:  externalUrl,
		Score:        score,
		CommentCount: commentCount,
		CreatedAt:    createdAt.UTC(),
	}, nil
}

// ClassifiedItem is an Item together with the categories it was labelled with
type ClassifiedItem struct {
	Item
	Classification Classification `json:"analysis"`
	ClassifiedAt   time.Time      `json:"classifiedAt"`
}

func NewClassifiedItem(item Item, classification Classification, classifiedAt time.Time) ClassifiedItem {
	return ClassifiedItem{
		Item:           item,
		Classification: classification,
		ClassifiedAt:   classifiedAt.UTC(),
	}
}

// NormalizeChannel makes channel names case-insensitive
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
