package pipeline

import (
	"context"
	"errors"
	"subpulse/classifier"
	"subpulse/models"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// classifyEach classifies every item concurrently. Items the classifier
// rejects are dropped. The surviving items keep their input order.
func (p *Pipeline) classifyEach(ctx context.Context, logger *log.Entry, items []models.Item, now time.Time) ([]models.ClassifiedItem, error) {
	results := make([]*models.ClassifiedItem, len(items))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			classification, err := p.classifier.Classify(gctx, item.Title, item.Body)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, classifier.ErrClassificationInvalid) {
					classifications.WithLabelValues("dropped").Inc()
					logger.WithFields(log.Fields{
						"id":    item.ExternalId,
						"error": err,
					}).Warn("Dropping post that could not be classified")
					return nil
				}
				return err
			}

			classifications.WithLabelValues("ok").Inc()
			classified := models.NewClassifiedItem(item, classification, now)
			results[i] = &classified
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Classification aborted")
		return nil, err
	}

	return lo.FilterMap(results, func(r *models.ClassifiedItem, _ int) (models.ClassifiedItem, bool) {
		if r == nil {
			return models.ClassifiedItem{}, false
		}
		return *r, true
	}), nil
}
