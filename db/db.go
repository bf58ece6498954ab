package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// ErrStoreUnavailable wraps every failure to reach or query the database.
// An empty result is never reported through it.
var ErrStoreUnavailable = errors.New("store unavailable")

const (
	itemsTable           = "items"
	classifiedItemsTable = "classified_items"

	queryTimeout = 30 * time.Second
)

// DB handles all cache store operations with a shared connection pool
type DB struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor

	// Kept so migrations can open their own connection
	driver string
	dsn    string
}

// NewDB connects to PostgreSQL
func NewDB(host string, port int, user, password, dbname string) (*DB, error) {
	dsn := buildConnectionString(host, port, user, password, dbname)
	conn, err := openPostgres(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", ErrStoreUnavailable, err)
	}

	return &DB{db: conn, flavor: flavorFor(postgresDriver), driver: postgresDriver, dsn: dsn}, nil
}

// NewSQLiteDB opens (and creates if needed) an SQLite database file
func NewSQLiteDB(path string) (*DB, error) {
	dsn := sqliteDSN(path)
	conn, err := openSQLite(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStoreUnavailable, err)
	}

	return &DB{db: conn, flavor: flavorFor(sqliteDriver), driver: sqliteDriver, dsn: dsn}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	if err := db.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) String() string {
	return fmt.Sprintf("%s store", db.driver)
}

func unavailable(op string, err error) error {
	log.WithFields(log.Fields{
		"op":    op,
		"error": err,
	}).Error("Store operation failed")
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
