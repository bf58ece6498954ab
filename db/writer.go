package db

import (
	"context"
	"fmt"
	"strings"
	"subpulse/models"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Columns refreshed when an already stored item is ingested again. The
// identity and creation time never change.
var refreshedItemColumns = []string{"title", "body", "external_url", "score", "comment_count", "stored_at"}

// InsertItems upserts a batch of items keyed by (channel, external_id). The
// whole batch is committed before returning; an empty batch is a no-op.
func (db *DB) InsertItems(ctx context.Context, channel string, items []models.Item, now time.Time) error {
	if len(items) == 0 {
		return nil
	}
	channel = models.NormalizeChannel(channel)
	items = lo.UniqBy(items, func(item models.Item) string { return item.ExternalId })

	ib := db.flavor.NewInsertBuilder()
	ib.InsertInto(itemsTable).Cols(itemColumns...)
	for _, item := range items {
		ib.Values(itemValues(channel, item, now)...)
	}
	ib.SQL(upsertClause(refreshedItemColumns))

	return db.execBatch(ctx, "insert items", channel, len(items), ib)
}

// InsertClassifiedItems upserts a batch of classified items keyed by
// (channel, external_id).
func (db *DB) InsertClassifiedItems(ctx context.Context, channel string, items []models.ClassifiedItem, now time.Time) error {
	if len(items) == 0 {
		return nil
	}
	channel = models.NormalizeChannel(channel)
	items = lo.UniqBy(items, func(item models.ClassifiedItem) string { return item.ExternalId })

	ib := db.flavor.NewInsertBuilder()
	ib.InsertInto(classifiedItemsTable).Cols(append(append([]string{}, itemColumns...), classificationColumns...)...)
	for _, item := range items {
		c := item.Classification
		values := append(itemValues(channel, item.Item, now),
			c.SolutionRequests, c.PainAndAnger, c.AdviceRequests, c.MoneyTalk, item.ClassifiedAt.Unix())
		ib.Values(values...)
	}
	ib.SQL(upsertClause(append(append([]string{}, refreshedItemColumns...), classificationColumns...)))

	return db.execBatch(ctx, "insert classified items", channel, len(items), ib)
}

func (db *DB) execBatch(ctx context.Context, op string, channel string, count int, ib *sqlbuilder.InsertBuilder) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query, args := ib.Build()

	log.WithFields(log.Fields{
		"op":      op,
		"channel": channel,
		"count":   count,
	}).Info("Writing batch")

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return unavailable(op, err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable(op, err)
	}

	return nil
}

func itemValues(channel string, item models.Item, now time.Time) []interface{} {
	return []interface{}{
		item.ExternalId,
		channel,
		item.Title,
		item.Body,
		item.ExternalUrl,
		item.Score,
		item.CommentCount,
		item.CreatedAt.Unix(),
		now.Unix(),
	}
}

// Works for both PostgreSQL and SQLite
func upsertClause(columns []string) string {
	assignments := lo.Map(columns, func(col string, _ int) string {
		return fmt.Sprintf("%s = excluded.%s", col, col)
	})
	return "ON CONFLICT (channel, external_id) DO UPDATE SET " + strings.Join(assignments, ", ")
}
