package server

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"subpulse/db"
	"subpulse/feed"
	"subpulse/models"
	"subpulse/pipeline"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "subpulse_http_request_duration_seconds",
	Help:    "Duration of HTTP requests by route and status",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
}, []string{"method", "route", "status"})

// Pipeline is the part of pipeline.Pipeline the server uses
type Pipeline interface {
	GetCachedOrFreshPosts(ctx context.Context, channel string) ([]models.Item, error)
	GetCachedOrFreshClassifiedPosts(ctx context.Context, channel string) ([]models.ClassifiedItem, error)
	GetThemes(ctx context.Context, channel string) ([]models.Theme, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerConfig struct {
	Pipeline Pipeline

	// Checked by /healthz
	Store Pinger

	// Comma separated list of origins allowed to call the API
	AllowOrigins string

	// Responses of the channel endpoints are cached in memory for this long.
	// Zero disables the response cache.
	CacheTTL time.Duration
}

// Returns a fiber.App instance serving the channel API
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		requestDuration.WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).Observe(latency.Seconds())

		log.WithFields(log.Fields{
			"method":    c.Method(),
			"route":     c.Route().Path,
			"status":    status,
			"latency":   latency,
			"requestId": c.GetRespHeader(fiber.HeaderXRequestID),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: config.AllowOrigins,
			AllowMethods: fiber.MethodGet,
		}))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if config.Store != nil {
			if err := config.Store.Ping(c.UserContext()); err != nil {
				log.WithError(err).Error("Health check failed")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")

	if config.CacheTTL > 0 {
		api.Use(cache.New(cache.Config{
			Expiration: config.CacheTTL,
			// Also checked after the handler, so error responses are not stored
			Next: func(c *fiber.Ctx) bool {
				return c.Method() != fiber.MethodGet || c.Response().StatusCode() >= fiber.StatusBadRequest
			},
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.Request().URI().String()
			},
		}))
	}

	api.Get("/channels/:name/posts", func(c *fiber.Ctx) error {
		posts, err := config.Pipeline.GetCachedOrFreshPosts(c.UserContext(), channelParam(c))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(posts)
	})

	api.Get("/channels/:name/classified", func(c *fiber.Ctx) error {
		posts, err := config.Pipeline.GetCachedOrFreshClassifiedPosts(c.UserContext(), channelParam(c))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(posts)
	})

	api.Get("/channels/:name/themes", func(c *fiber.Ctx) error {
		themes, err := config.Pipeline.GetThemes(c.UserContext(), channelParam(c))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(themes)
	})

	return app
}

// channelParam copies the channel out of the request buffer, which fiber
// reuses once the handler returns. The channel ends up in results that are
// shared between requests.
func channelParam(c *fiber.Ctx) string {
	return strings.Clone(c.Params("name"))
}

// statusFor maps pipeline errors to a status and a message that is safe to
// show to callers
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, feed.ErrInvalidRequest):
		return fiber.StatusBadRequest, "Invalid channel"
	case errors.Is(err, pipeline.ErrNotFound):
		return fiber.StatusNotFound, "Channel not found"
	case errors.Is(err, feed.ErrFeedUnavailable):
		return fiber.StatusBadGateway, "Feed source unavailable"
	case errors.Is(err, db.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable, "Store unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "Request timed out"
	default:
		return fiber.StatusInternalServerError, "Internal error"
	}
}

func sendError(c *fiber.Ctx, err error) error {
	status, message := statusFor(err)

	log.WithFields(log.Fields{
		"path":   c.Path(),
		"status": status,
		"error":  err,
	}).Error("Request failed")

	return c.Status(status).JSON(fiber.Map{"error": message})
}
