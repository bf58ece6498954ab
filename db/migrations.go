package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var fs embed.FS

// Migrate runs all pending migrations for the store's flavor
func (db *DB) Migrate() error {
	log.WithFields(log.Fields{
		"driver": db.driver,
	}).Info("Running migrations")

	m, err := db.migrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

// Rollback reverts the last applied migration
func (db *DB) Rollback() error {
	log.WithFields(log.Fields{
		"driver": db.driver,
	}).Info("Rolling back last migration")

	m, err := db.migrator()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}

	return nil
}

// migrator opens a dedicated connection since closing the migrate instance
// also closes the database handle it was given
func (db *DB) migrator() (*migrate.Migrate, error) {
	conn, err := sql.Open(db.driver, db.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open migration connection: %w", ErrStoreUnavailable, err)
	}

	d, err := iofs.New(fs, "migrations/"+db.driver)
	if err != nil {
		conn.Close()
		return nil, err
	}

	var m *migrate.Migrate
	switch db.driver {
	case sqliteDriver:
		driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: sqlite migration driver: %w", ErrStoreUnavailable, err)
		}
		m, err = migrate.NewWithInstance("iofs", d, "sqlite", driver)
		if err != nil {
			conn.Close()
			return nil, err
		}
	default:
		driver, err := postgres.WithInstance(conn, &postgres.Config{})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: postgres migration driver: %w", ErrStoreUnavailable, err)
		}
		m, err = migrate.NewWithInstance("iofs", d, "postgres", driver)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	return m, nil
}
