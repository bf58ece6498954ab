/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os/signal"
	"subpulse/server"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the channel API",
		Description: `Starts the subpulse HTTP server.

Posts and classified posts for a channel are served from the cache store when
they were stored within the cache window. Otherwise they are fetched from
Reddit, classified, stored and returned.`,
		Flags: append(pipelineFlags(),
			&cli.StringFlag{
				Name:    "host",
				Usage:   "Host to listen on",
				EnvVars: []string{"SUBPULSE_HOST"},
				Value:   "0.0.0.0",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				EnvVars: []string{"SUBPULSE_PORT"},
				Value:   3000,
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Usage:   "Comma separated list of origins allowed to call the API",
				EnvVars: []string{"SUBPULSE_ALLOW_ORIGINS"},
			},
			&cli.DurationFlag{
				Name:    "response-cache",
				Usage:   "Cache API responses in memory for this long, 0 disables",
				EnvVars: []string{"SUBPULSE_RESPONSE_CACHE"},
			},
		),
		Action: func(ctx *cli.Context) error {
			signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx.Context = signalCtx

			w, err := assemble(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			app := server.Server(&server.ServerConfig{
				Pipeline:     w.Pipeline,
				Store:        w.Store,
				AllowOrigins: ctx.String("allow-origins"),
				CacheTTL:     ctx.Duration("response-cache"),
			})

			errs := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf("%s:%d", ctx.String("host"), ctx.Int("port"))
				log.WithFields(log.Fields{
					"addr": addr,
				}).Info("Starting server")
				errs <- app.Listen(addr)
			}()

			select {
			case err := <-errs:
				return err
			case <-signalCtx.Done():
				log.Info("Gracefully shutting down...")
				return app.ShutdownWithTimeout(60 * time.Second)
			}
		},
	}
}
