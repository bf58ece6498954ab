package cmd

import (
	"fmt"
	"subpulse/db"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Database flags shared by every command that touches the cache store
func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database",
			Aliases: []string{"d"},
			Usage:   "SQLite database file location. When set, the PostgreSQL flags are ignored",
			EnvVars: []string{"SUBPULSE_DATABASE"},
		},
		&cli.StringFlag{
			Name:    "db-host",
			Usage:   "PostgreSQL host",
			EnvVars: []string{"SUBPULSE_DB_HOST"},
			Value:   "localhost",
		},
		&cli.IntFlag{
			Name:    "db-port",
			Usage:   "PostgreSQL port",
			EnvVars: []string{"SUBPULSE_DB_PORT"},
			Value:   5432,
		},
		&cli.StringFlag{
			Name:    "db-user",
			Usage:   "PostgreSQL user",
			EnvVars: []string{"SUBPULSE_DB_USER"},
			Value:   "subpulse",
		},
		&cli.StringFlag{
			Name:    "db-password",
			Usage:   "PostgreSQL password",
			EnvVars: []string{"SUBPULSE_DB_PASSWORD"},
			Value:   "subpulse",
		},
		&cli.StringFlag{
			Name:    "db-name",
			Usage:   "PostgreSQL database name",
			EnvVars: []string{"SUBPULSE_DB_NAME"},
			Value:   "subpulse",
		},
	}
}

func openDatabase(ctx *cli.Context) (*db.DB, error) {
	if path := ctx.String("database"); path != "" {
		log.WithFields(log.Fields{
			"database": path,
		}).Info("Database configured")
		return db.NewSQLiteDB(path)
	}

	log.WithFields(log.Fields{
		"database": fmt.Sprintf("%s:%d/%s", ctx.String("db-host"), ctx.Int("db-port"), ctx.String("db-name")),
	}).Info("Database configured")

	return db.NewDB(
		ctx.String("db-host"),
		ctx.Int("db-port"),
		ctx.String("db-user"),
		ctx.String("db-password"),
		ctx.String("db-name"),
	)
}
