package config

import (
	"fmt"
	"os"
	"subpulse/classifier"
	"subpulse/feed"
	"subpulse/pipeline"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration decodes TOML strings such as "24h" or "90s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// TomlFetch configures one fetch on the miss path
type TomlFetch struct {
	Sort  string `toml:"sort"`
	Limit int    `toml:"limit"`
}

// TomlPipeline holds the cache window and fetch settings
type TomlPipeline struct {
	Window     Duration  `toml:"window"`
	Channels   []string  `toml:"channels"` // Allow-list, empty allows all
	Posts      TomlFetch `toml:"posts"`
	Classified TomlFetch `toml:"classified"`
	LockTTL    Duration  `toml:"lock_ttl"`
	LockWait   Duration  `toml:"lock_wait"`

	// Upper bound for a fetch and classify pass
	FillTimeout Duration `toml:"fill_timeout"`
}

type TomlFeed struct {
	BaseURL   string   `toml:"base_url"`
	TokenURL  string   `toml:"token_url"`
	UserAgent string   `toml:"user_agent"`
	MaxAge    Duration `toml:"max_age"`
	Timeout   Duration `toml:"timeout"`
}

type TomlClassifier struct {
	Model       string            `toml:"model"`
	BaseURL     string            `toml:"base_url"`
	Temperature float32           `toml:"temperature"`
	Timeout     Duration          `toml:"timeout"`
	Headers     map[string]string `toml:"headers"` // Values may reference environment variables, e.g. "Bearer ${HELICONE_API_KEY}"
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Pipeline   TomlPipeline   `toml:"pipeline"`
	Feed       TomlFeed       `toml:"feed"`
	Classifier TomlClassifier `toml:"classifier"`
}

// DefaultConfig is used when no config file is given
func DefaultConfig() *TomlConfig {
	opts := pipeline.DefaultOptions()
	return &TomlConfig{
		Pipeline: TomlPipeline{
			Window:      Duration{opts.Window},
			Posts:       TomlFetch{Sort: string(opts.PostsSort), Limit: opts.PostsLimit},
			Classified:  TomlFetch{Sort: string(opts.ClassifiedSort), Limit: opts.ClassifiedLimit},
			LockTTL:     Duration{opts.LockTTL},
			LockWait:    Duration{opts.LockWait},
			FillTimeout: Duration{opts.FillTimeout},
		},
		Feed: TomlFeed{
			UserAgent: feed.DefaultUserAgent,
			MaxAge:    Duration{24 * time.Hour},
		},
		Classifier: TomlClassifier{
			Model: classifier.DefaultModel,
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig
func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

func (c *TomlConfig) Validate() error {
	for name, fetch := range map[string]TomlFetch{"posts": c.Pipeline.Posts, "classified": c.Pipeline.Classified} {
		if _, err := feed.ParseSort(fetch.Sort); err != nil {
			return fmt.Errorf("pipeline.%s.sort: %w", name, err)
		}
		if fetch.Limit < 1 || fetch.Limit > feed.MaxLimit {
			return fmt.Errorf("pipeline.%s.limit must be between 1 and %d, got %d", name, feed.MaxLimit, fetch.Limit)
		}
	}

	if c.Pipeline.Window.Duration <= 0 {
		return fmt.Errorf("pipeline.window must be positive")
	}

	for _, channel := range c.Pipeline.Channels {
		if err := feed.ValidateChannel(channel); err != nil {
			return fmt.Errorf("pipeline.channels: %w", err)
		}
	}

	return nil
}

func (c *TomlConfig) PipelineOptions() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.Window = c.Pipeline.Window.Duration
	opts.PostsSort = feed.Sort(c.Pipeline.Posts.Sort)
	opts.PostsLimit = c.Pipeline.Posts.Limit
	opts.ClassifiedSort = feed.Sort(c.Pipeline.Classified.Sort)
	opts.ClassifiedLimit = c.Pipeline.Classified.Limit
	opts.Channels = c.Pipeline.Channels
	opts.LockTTL = c.Pipeline.LockTTL.Duration
	opts.LockWait = c.Pipeline.LockWait.Duration
	opts.FillTimeout = c.Pipeline.FillTimeout.Duration
	return opts
}

// RedditConfig combines the file settings with credentials from the environment
func (c *TomlConfig) RedditConfig(clientId, clientSecret, refreshToken string) feed.RedditConfig {
	return feed.RedditConfig{
		ClientID:     clientId,
		ClientSecret: clientSecret,
		RefreshToken: refreshToken,
		UserAgent:    c.Feed.UserAgent,
		BaseURL:      c.Feed.BaseURL,
		TokenURL:     c.Feed.TokenURL,
		MaxAge:       c.Feed.MaxAge.Duration,
		Timeout:      c.Feed.Timeout.Duration,
	}
}

func (c *TomlConfig) OpenAIConfig(apiKey string) classifier.OpenAIConfig {
	headers := make(map[string]string, len(c.Classifier.Headers))
	for k, v := range c.Classifier.Headers {
		headers[k] = os.ExpandEnv(v)
	}

	return classifier.OpenAIConfig{
		APIKey:      apiKey,
		BaseURL:     c.Classifier.BaseURL,
		Model:       c.Classifier.Model,
		Headers:     headers,
		Temperature: c.Classifier.Temperature,
		Timeout:     c.Classifier.Timeout.Duration,
	}
}
