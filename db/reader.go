package db

import (
	"context"
	"subpulse/models"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

var itemColumns = []string{
	"external_id", "channel", "title", "body", "external_url",
	"score", "comment_count", "created_at", "stored_at",
}

var classificationColumns = []string{
	"solution_requests", "pain_and_anger", "advice_requests", "money_talk", "classified_at",
}

func (db *DB) freshQuery(table string, channel string, window time.Duration, now time.Time) *sqlbuilder.SelectBuilder {
	threshold := now.Add(-window).Unix()

	sb := db.flavor.NewSelectBuilder()
	sb.From(table)
	sb.Where(
		sb.Equal("channel", models.NormalizeChannel(channel)),
		sb.GreaterEqualThan("stored_at", threshold),
	)
	return sb
}

// FindFreshItems returns the items of a channel stored within the window,
// highest score first. No fresh items is an empty result, not an error.
func (db *DB) FindFreshItems(ctx context.Context, channel string, window time.Duration, now time.Time) ([]models.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.freshQuery(itemsTable, channel, window, now)
	sb.Select(itemColumns...)
	sb.OrderBy("score DESC", "created_at DESC", "external_id")

	sql, args := sb.Build()
	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Debug("Generated SQL query")

	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, unavailable("query items", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var row itemRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, unavailable("scan item", err)
		}
		items = append(items, row.item())
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate items", err)
	}

	return items, nil
}

// FindFreshClassifiedItems returns the classified items of a channel stored
// within the window, newest first.
func (db *DB) FindFreshClassifiedItems(ctx context.Context, channel string, window time.Duration, now time.Time) ([]models.ClassifiedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sb := db.freshQuery(classifiedItemsTable, channel, window, now)
	sb.Select(append(append([]string{}, itemColumns...), classificationColumns...)...)
	sb.OrderBy("created_at DESC", "external_id")

	sql, args := sb.Build()
	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Debug("Generated SQL query")

	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, unavailable("query classified items", err)
	}
	defer rows.Close()

	var items []models.ClassifiedItem
	for rows.Next() {
		var row itemRow
		var c models.Classification
		var classifiedAt int64

		dest := append(row.dest(), &c.SolutionRequests, &c.PainAndAnger, &c.AdviceRequests, &c.MoneyTalk, &classifiedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, unavailable("scan classified item", err)
		}
		items = append(items, models.NewClassifiedItem(row.item(), c, time.Unix(classifiedAt, 0)))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate classified items", err)
	}

	return items, nil
}

// itemRow mirrors the item columns, timestamps as unix seconds
type itemRow struct {
	externalId   string
	channel      string
	title        string
	body         string
	externalUrl  string
	score        int
	commentCount int
	createdAt    int64
	storedAt     int64
}

func (r *itemRow) dest() []any {
	return []any{
		&r.externalId, &r.channel, &r.title, &r.body, &r.externalUrl,
		&r.score, &r.commentCount, &r.createdAt, &r.storedAt,
	}
}

func (r *itemRow) item() models.Item {
	return models.Item{
		ExternalId:   r.externalId,
		Channel:      r.channel,
		Title:        r.title,
		Body:         r.body,
		ExternalUrl:  r.externalUrl,
		Score:        r.score,
		CommentCount: r.commentCount,
		CreatedAt:    time.Unix(r.createdAt, 0).UTC(),
		StoredAt:     time.Unix(r.storedAt, 0).UTC(),
	}
}
