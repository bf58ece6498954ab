package cmd

import (
	"subpulse/classifier"
	"subpulse/config"
	"subpulse/db"
	"subpulse/feed"
	"subpulse/lock"
	"subpulse/pipeline"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to TOML configuration file. Defaults are used when unset",
		EnvVars: []string{"SUBPULSE_CONFIG"},
	}
}

func openAIFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "openai-api-key",
			Usage:   "OpenAI API key used for classification",
			EnvVars: []string{"OPENAI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "openai-base-url",
			Usage:   "Override the OpenAI base URL, e.g. https://oai.helicone.ai/v1",
			EnvVars: []string{"SUBPULSE_OPENAI_BASE_URL"},
		},
		&cli.StringFlag{
			Name:    "helicone-api-key",
			Usage:   "Sent as Helicone-Auth when set",
			EnvVars: []string{"HELICONE_API_KEY"},
		},
	}
}

// Flags for every command that runs the pipeline
func pipelineFlags() []cli.Flag {
	flags := append(databaseFlags(), configFlag())
	flags = append(flags, openAIFlags()...)
	return append(flags,
		&cli.StringFlag{
			Name:    "reddit-client-id",
			Usage:   "Reddit app client id. Public listings are used when unset",
			EnvVars: []string{"REDDIT_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "reddit-client-secret",
			Usage:   "Reddit app client secret",
			EnvVars: []string{"REDDIT_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "reddit-refresh-token",
			Usage:   "Reddit OAuth refresh token",
			EnvVars: []string{"REDDIT_REFRESH_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the cache miss lock shared between replicas, e.g. redis://localhost:6379/0",
			EnvVars: []string{"SUBPULSE_REDIS_URL"},
		},
		&cli.BoolFlag{
			Name:    "migrate",
			Usage:   "Run database migrations before starting",
			EnvVars: []string{"SUBPULSE_MIGRATE"},
		},
	)
}

func loadConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	path := ctx.String("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}

	log.WithFields(log.Fields{
		"config": path,
	}).Info("Loading config")

	return config.LoadConfig(path)
}

func newOpenAICompleter(ctx *cli.Context, cfg *config.TomlConfig) *classifier.OpenAICompleter {
	openAIConfig := cfg.OpenAIConfig(ctx.String("openai-api-key"))
	if ctx.IsSet("openai-base-url") {
		openAIConfig.BaseURL = ctx.String("openai-base-url")
	}
	if key := ctx.String("helicone-api-key"); key != "" {
		openAIConfig.Headers["Helicone-Auth"] = "Bearer " + key
	}
	return classifier.NewOpenAICompleter(openAIConfig)
}

// wiring holds everything a pipeline command owns
type wiring struct {
	Store    *db.DB
	Pipeline *pipeline.Pipeline
	Config   *config.TomlConfig

	redis *lock.Redis
}

func (a *wiring) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.Store.Close()
}

func assemble(ctx *cli.Context) (*wiring, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	store, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}

	if ctx.Bool("migrate") {
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, err
		}
	}

	a := &wiring{Store: store, Config: cfg}

	var locker lock.Locker = lock.Noop{}
	if url := ctx.String("redis-url"); url != "" {
		redis, err := lock.NewRedisFromURL(ctx.Context, url)
		if err != nil {
			// The lock only reduces duplicate work, so run without it
			log.WithError(err).Warn("Redis unavailable, cache misses are not coordinated between replicas")
		} else {
			a.redis = redis
			locker = redis
		}
	}

	reddit := feed.NewRedditClient(ctx.Context, cfg.RedditConfig(
		ctx.String("reddit-client-id"),
		ctx.String("reddit-client-secret"),
		ctx.String("reddit-refresh-token"),
	))

	a.Pipeline = pipeline.New(
		store,
		reddit,
		classifier.NewClassifier(newOpenAICompleter(ctx, cfg)),
		locker,
		cfg.PipelineOptions(),
	)

	return a, nil
}
