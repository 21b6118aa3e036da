// Package main provides the Fluxway API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/queue"
	"github.com/fluxway/fluxway/pkg/services"
	"github.com/fluxway/fluxway/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	queue       queue.Queue
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	log *slog.Logger,
	persist persistence.Persistence,
	jobQueue queue.Queue,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      log,
		persistence: persist,
		queue:       jobQueue,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflows := services.NewWorkflows(a.persistence)
	executions := services.NewExecutions(a.persistence, a.queue, a.eventBus)

	handlers := web.NewAPIHandlers(workflows, executions, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Fluxway API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
