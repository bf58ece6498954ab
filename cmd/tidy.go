/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing cached posts that are old.

Removes posts and classified posts stored more than --older-than ago.
Records older than the cache window are never served, so this only keeps the
database size down.`,
		Flags: append(databaseFlags(),
			&cli.DurationFlag{
				Name:    "older-than",
				Usage:   "Remove records stored longer ago than this",
				EnvVars: []string{"SUBPULSE_TIDY_OLDER_THAN"},
				Value:   30 * 24 * time.Hour,
			},
		),
		Action: func(ctx *cli.Context) error {
			store, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.Tidy(ctx.Context, ctx.Duration("older-than"), time.Now())
			if err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"deleted": deleted,
			}).Info("Tidied database")
			return nil
		},
	}
}
