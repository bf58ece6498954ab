package db

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tidy removes records stored before now - olderThan from both tables and
// returns the number of deleted rows. It runs outside the request path.
func (db *DB) Tidy(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cutoff := now.Add(-olderThan).Unix()
	var total int64

	for _, table := range []string{itemsTable, classifiedItemsTable} {
		del := db.flavor.NewDeleteBuilder()
		sql, args := del.DeleteFrom(table).Where(del.LessThan("stored_at", cutoff)).Build()

		log.WithFields(log.Fields{
			"sql":  sql,
			"args": args,
		}).Info("Tidying database")

		res, err := db.db.ExecContext(ctx, sql, args...)
		if err != nil {
			return total, unavailable("tidy "+table, err)
		}

		deleted, err := res.RowsAffected()
		if err != nil {
			return total, unavailable("tidy "+table, err)
		}
		total += deleted
	}

	return total, nil
}
