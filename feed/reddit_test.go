package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingBody = `{
  "kind": "Listing",
  "data": {
    "after": null,
    "children": [
      {"kind": "t3", "data": {"id": "a1", "title": "First", "selftext": "Body one", "url": "https://example.com/1", "score": 10, "num_comments": 3, "created_utc": 1730000000.0}},
      {"kind": "t1", "data": {"id": "c1", "title": "", "created_utc": 1730000000.0}},
      {"kind": "t3", "data": {"id": "", "title": "No id", "created_utc": 1730000000.0}},
      {"kind": "t3", "data": {"id": "a2", "title": "Second", "selftext": "", "url": "", "permalink": "/r/ollama/comments/a2/second/", "score": 4, "num_comments": 0, "created_utc": 1729990000.5}},
      {"kind": "t3", "data": {"id": "a1", "title": "First again", "created_utc": 1730000000.0}},
      {"kind": "t3", "data": {"id": "a3", "title": "", "created_utc": 1730000000.0}}
    ]
  }
}`

func publicServer(t *testing.T, calls *int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchRecentNormalizesListing(t *testing.T) {
	var calls int32
	var gotPath, gotQuery, gotAgent string
	server := publicServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, listingBody)
	})

	client := NewRedditClient(context.Background(), RedditConfig{BaseURL: server.URL, UserAgent: "test-agent"})

	items, err := client.FetchRecent(context.Background(), "Ollama", SortNew, 10)
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls)
	assert.Equal(t, "/r/Ollama/new.json", gotPath)
	assert.Equal(t, "limit=10&raw_json=1", gotQuery)
	assert.Equal(t, "test-agent", gotAgent)

	require.Len(t, items, 2)
	assert.Equal(t, "a1", items[0].ExternalId)
	assert.Equal(t, "First", items[0].Title)
	assert.Equal(t, "Body one", items[0].Body)
	assert.Equal(t, "ollama", items[0].Channel)
	assert.Equal(t, 10, items[0].Score)
	assert.Equal(t, 3, items[0].CommentCount)
	assert.True(t, items[0].CreatedAt.Equal(time.Unix(1730000000, 0)))

	assert.Equal(t, "a2", items[1].ExternalId)
	assert.Equal(t, "https://www.reddit.com/r/ollama/comments/a2/second/", items[1].ExternalUrl)
	assert.True(t, items[1].CreatedAt.Equal(time.Unix(1729990000, 0)))
}

func TestFetchRecentTopIsRestrictedToOneDay(t *testing.T) {
	var calls int32
	var gotQuery string
	server := publicServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"kind":"Listing","data":{"children":[]}}`)
	})

	client := NewRedditClient(context.Background(), RedditConfig{BaseURL: server.URL})

	items, err := client.FetchRecent(context.Background(), "ollama", SortTop, 100)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, "limit=100&raw_json=1&t=day", gotQuery)
}

func TestFetchRecentMaxAge(t *testing.T) {
	var calls int32
	server := publicServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingBody)
	})

	client := NewRedditClient(context.Background(), RedditConfig{BaseURL: server.URL, MaxAge: time.Hour})
	client.now = func() time.Time { return time.Unix(1730000000, 0).Add(30 * time.Minute) }

	items, err := client.FetchRecent(context.Background(), "ollama", SortNew, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a1", items[0].ExternalId)
}

func TestFetchRecentInvalidRequest(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		sort    Sort
		limit   int
	}{
		{"empty channel", "", SortNew, 10},
		{"single character channel", "a", SortNew, 10},
		{"path in channel", "ollama/../admin", SortNew, 10},
		{"channel too long", "abcdefghijklmnopqrstuv", SortNew, 10},
		{"zero limit", "ollama", SortNew, 0},
		{"limit over maximum", "ollama", SortNew, 101},
		{"unknown sort", "ollama", Sort("rising"), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := publicServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, listingBody)
			})
			client := NewRedditClient(context.Background(), RedditConfig{BaseURL: server.URL})

			_, err := client.FetchRecent(context.Background(), tt.channel, tt.sort, tt.limit)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.EqualValues(t, 0, calls, "no network call for invalid requests")
		})
	}
}

func TestFetchRecentUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "private", http.StatusForbidden)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"data": [`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := publicServer(t, &calls, tt.handler)
			client := NewRedditClient(context.Background(), RedditConfig{BaseURL: server.URL})

			_, err := client.FetchRecent(context.Background(), "ollama", SortNew, 10)
			assert.ErrorIs(t, err, ErrFeedUnavailable)
			assert.EqualValues(t, 1, calls, "failures are not retried")
		})
	}
}

func TestFetchRecentUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewRedditClient(context.Background(), RedditConfig{BaseURL: url, Timeout: time.Second})

	_, err := client.FetchRecent(context.Background(), "ollama", SortNew, 10)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestFetchRecentWithOAuth(t *testing.T) {
	var tokenCalls int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			http.Error(w, "bad client", http.StatusUnauthorized)
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "refresh" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	var apiCalls int32
	var gotPath, gotAuth string
	apiServer := publicServer(t, &apiCalls, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, listingBody)
	})

	client := NewRedditClient(context.Background(), RedditConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		BaseURL:      apiServer.URL,
		TokenURL:     tokenServer.URL,
	})

	for i := 0; i < 2; i++ {
		items, err := client.FetchRecent(context.Background(), "ollama", SortHot, 25)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	}

	assert.Equal(t, "/r/ollama/hot", gotPath)
	assert.Equal(t, "Bearer access", gotAuth)
	assert.EqualValues(t, 1, tokenCalls, "access token is reused")
	assert.EqualValues(t, 2, apiCalls)
}

func TestFetchRecentTokenRefreshFailure(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer tokenServer.Close()

	var apiCalls int32
	apiServer := publicServer(t, &apiCalls, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingBody)
	})

	client := NewRedditClient(context.Background(), RedditConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "revoked",
		BaseURL:      apiServer.URL,
		TokenURL:     tokenServer.URL,
	})

	_, err := client.FetchRecent(context.Background(), "ollama", SortNew, 10)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
	assert.EqualValues(t, 0, apiCalls)
}

func TestParseSort(t *testing.T) {
	for _, s := range []string{"new", "top", "hot"} {
		got, err := ParseSort(s)
		require.NoError(t, err)
		assert.Equal(t, Sort(s), got)
	}

	_, err := ParseSort("controversial")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
