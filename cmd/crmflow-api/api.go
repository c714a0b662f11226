// Package main provides the crmflow API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
)

type API struct {
	logger   *slog.Logger
	engine   *engine.Engine
	sink     web.EventSink
	gatherer prometheus.Gatherer
	app      *fiber.App
}

// NewAPI builds the server. With a nil sink, submitted events run in the
// request; otherwise they are handed to the sink for the workers.
func NewAPI(logger *slog.Logger, eng *engine.Engine, sink web.EventSink, gatherer prometheus.Gatherer) *API {
	return &API{
		logger:   logger,
		engine:   eng,
		sink:     sink,
		gatherer: gatherer,
	}
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(a.engine, a.sink, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("crmflow API")
	})

	if a.gatherer != nil {
		app.Get("/metrics", web.MetricsHandler(a.gatherer))
	}

	handlers.Register(app)

	a.app = app

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.app == nil {
		return nil
	}

	return a.app.ShutdownWithContext(ctx)
}
