/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "subpulse",
		Usage: "Cached and classified Reddit posts per channel",
		Description: `Serves the posts of a subreddit together with a classification into
a fixed set of categories: solution requests, pain and anger, advice requests
and money talk.

Posts are fetched from Reddit on demand and kept in a PostgreSQL or SQLite
cache store for 24 hours. Each post is classified once by an OpenAI model
when it enters the cache.

Flags can generally be set via environment variables, e.g.:

--database => SUBPULSE_DATABASE=subpulse.db
--port => SUBPULSE_PORT=3000

Environment variables are also read from .env files, see SUBPULSE_ENV.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: trace, debug, info, warn or error",
				EnvVars: []string{"SUBPULSE_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: text or json",
				EnvVars: []string{"SUBPULSE_LOG_FORMAT"},
				Value:   "text",
			},
		},
		Before: func(ctx *cli.Context) error {
			return configureLogging(ctx.String("log-level"), ctx.String("log-format"))
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
			postsCmd(),
			classifiedCmd(),
			classifyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func configureLogging(level, format string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)

	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	return nil
}
