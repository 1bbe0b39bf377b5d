// Package api mounts the HTTP and websocket surface on a fiber app.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/gutlog/backend/internal/api/handlers"
	"github.com/gutlog/backend/internal/metrics"
	"github.com/gutlog/backend/internal/middleware/ratelimit"
	"github.com/gutlog/backend/internal/middleware/security"
	"github.com/gutlog/backend/internal/middleware/validation"
	"github.com/gutlog/backend/internal/storage/uploads"
	"github.com/gutlog/backend/pkg/config"
	appLogger "github.com/gutlog/backend/pkg/logger"
)

type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(cfg *config.Config, tracker handlers.Tracker, store *uploads.Store) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: !cfg.Server.Development,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               appLogger.Log,
	})
	validate := validation.UploadMiddleware(validation.Config{
		MaxUploadSize: int64(cfg.Server.BodyLimit),
		Logger:        appLogger.Log,
	})

	predict := handlers.NewPredictHandler(tracker, store)
	views := handlers.NewViewsHandler(tracker)
	ws := handlers.NewWebSocketHandler(tracker)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "Gut log API is online",
		})
	})

	app.Static(cfg.Uploads.URLPrefix, store.Dir())

	if cfg.Metrics.Enabled {
		app.Get("/metrics", metrics.MetricsHandler())
	}

	mount := func(r fiber.Router) {
		r.Post("/predict", limiter.Middleware(), validate, predict.Predict)
		r.Get("/history", views.History)
		r.Get("/stats/weekly", views.Weekly)
		r.Get("/stats/calendar", views.Calendar)
		r.Get("/tips", views.Tip)

		r.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		r.Get("/ws", websocket.New(ws.HandleConnection))
	}

	mount(app)

	api := app.Group("/api/v1")
	mount(api)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Shutdown() error {
	s.limiter.Stop()
	return s.App.Shutdown()
}
