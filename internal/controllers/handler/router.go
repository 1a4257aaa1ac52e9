package handler

import (
	"eventrelay/internal/application/common"
	"eventrelay/pkg/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type Router struct {
	handler Handler
	app     *fiber.App
	conf    *config.Config
	logger  *zap.SugaredLogger
}

func NewRouter(handler Handler, app *fiber.App, conf *config.Config, logger *zap.SugaredLogger) *Router {
	return &Router{
		logger:  logger,
		app:     app,
		conf:    conf,
		handler: handler,
	}
}

func (r *Router) RegisterRouter() {
	r.app.Get("/health", r.handler.HealthCheck)

	r.app.Use(
		recover.New(recover.Config{
			EnableStackTrace: true,
		}),
		logger.New(),
	)

	// stamp a correlation id on every request; minted when the caller
	// sends none, echoed back either way
	r.app.Use(func(c *fiber.Ctx) error {
		correlationID := c.Get("X-Correlation-Id")
		if correlationID == "" {
			if id, err := uuid.NewV4(); err == nil {
				correlationID = id.String()
			}
		}
		c.SetUserContext(common.WithCorrelationID(c.UserContext(), correlationID))
		c.Set("X-Correlation-Id", correlationID)
		return c.Next()
	})

	r.app.Route("/outbox", func(router fiber.Router) {
		api := router.Group("/api")

		v1 := api.Group("/v1")

		v1.Post("/events", r.handler.Enqueue)
		v1.Post("/events/:id/replay", r.handler.ReplayFailed)
		v1.Post("/publish", r.handler.Publish)
		v1.Get("/stats", r.handler.Stats)
		v1.Post("/stats/reset", r.handler.ResetStats)
	})
}
