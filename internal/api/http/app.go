package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "weather-places"

// Readiness reports whether the service accepts commands.
type Readiness interface {
	Running() bool
}

// AppConfig configures NewApp.
type AppConfig struct {
	CommandTimeout time.Duration
	// RequestLogging enables the fiber logger middleware.
	RequestLogging bool
}

// NewApp builds the Fiber app with the service endpoints and the place API.
func NewApp(svc PlaceService, ready Readiness, cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler:          ErrorHandler,
	})

	if cfg.RequestLogging {
		app.Use(logger.New())
	}
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})
	app.Get("/ready", func(c *fiber.Ctx) error {
		if !ready.Running() {
			return fiber.NewError(fiber.StatusServiceUnavailable, "repository is not running")
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	RegisterRoutes(app, svc, cfg.CommandTimeout)
	return app
}
