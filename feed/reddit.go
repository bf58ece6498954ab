package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"subpulse/models"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	DefaultOAuthBaseURL  = "https://oauth.reddit.com"
	DefaultPublicBaseURL = "https://www.reddit.com"
	DefaultTokenURL      = "https://www.reddit.com/api/v1/access_token"
	DefaultUserAgent     = "web:subpulse:1.0"

	defaultTimeout = 30 * time.Second
)

// RedditConfig configures the Reddit client. Without a client id the client
// falls back to the public JSON listings.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserAgent    string

	BaseURL  string
	TokenURL string

	// Items created before now - MaxAge are dropped. Zero keeps everything.
	MaxAge  time.Duration
	Timeout time.Duration
}

type RedditClient struct {
	client    *http.Client
	baseURL   string
	anonymous bool
	maxAge    time.Duration
	now       func() time.Time
}

// Adds the User-Agent Reddit requires on every request, token refreshes included
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

func NewRedditClient(ctx context.Context, cfg RedditConfig) *RedditClient {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	base := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &userAgentTransport{base: http.DefaultTransport, userAgent: cfg.UserAgent},
	}

	anonymous := cfg.ClientID == ""
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOAuthBaseURL
		if anonymous {
			cfg.BaseURL = DefaultPublicBaseURL
		}
	}

	client := base
	if !anonymous {
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}
		// Token refreshes go through the base client
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		client = oauthConfig.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		client.Timeout = cfg.Timeout
	}

	log.WithFields(log.Fields{
		"baseUrl":   cfg.BaseURL,
		"anonymous": anonymous,
		"maxAge":    cfg.MaxAge,
	}).Info("Configured Reddit client")

	return &RedditClient{
		client:    client,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		anonymous: anonymous,
		maxAge:    cfg.MaxAge,
		now:       time.Now,
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string    `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Id          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Url         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	CreatedUtc  float64 `json:"created_utc"`
}

// FetchRecent makes exactly one listing call and never retries
func (c *RedditClient) FetchRecent(ctx context.Context, channel string, sort Sort, limit int) ([]models.Item, error) {
	if err := validate(channel, sort, limit); err != nil {
		return nil, err
	}

	endpoint := c.listingURL(channel, sort, limit)

	log.WithFields(log.Fields{
		"channel": channel,
		"sort":    sort,
		"limit":   limit,
	}).Info("Fetching listing")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrFeedUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: r/%s returned %d: %s", ErrFeedUnavailable, channel, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("%w: decode listing: %w", ErrFeedUnavailable, err)
	}

	return c.normalize(channel, l), nil
}

func (c *RedditClient) listingURL(channel string, sort Sort, limit int) string {
	path := fmt.Sprintf("%s/r/%s/%s", c.baseURL, url.PathEscape(channel), sort)
	if c.anonymous {
		path += ".json"
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("raw_json", "1")
	if sort == SortTop {
		q.Set("t", "day")
	}
	return path + "?" + q.Encode()
}

func (c *RedditClient) normalize(channel string, l listing) []models.Item {
	seen := make(map[string]bool)
	items := make([]models.Item, 0, len(l.Data.Children))

	var cutoff time.Time
	if c.maxAge > 0 {
		cutoff = c.now().Add(-c.maxAge)
	}

	for _, child := range l.Data.Children {
		post := child.Data
		if child.Kind != "t3" || post.Id == "" || seen[post.Id] {
			continue
		}

		sec, frac := math.Modf(post.CreatedUtc)
		createdAt := time.Unix(int64(sec), int64(frac*1e9)).Truncate(time.Second)
		if !cutoff.IsZero() && createdAt.Before(cutoff) {
			continue
		}

		link := post.Url
		if link == "" && post.Permalink != "" {
			link = DefaultPublicBaseURL + post.Permalink
		}

		item, err := models.NewItem(post.Id, channel, post.Title, post.Selftext, link, post.Score, post.NumComments, createdAt)
		if err != nil {
			log.WithFields(log.Fields{
				"channel": channel,
				"id":      post.Id,
				"error":   err,
			}).Debug("Skipping malformed post")
			continue
		}

		seen[post.Id] = true
		items = append(items, item)
	}

	return items
}
