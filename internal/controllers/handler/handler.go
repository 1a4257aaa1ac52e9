package handler

import (
	"context"
	"fmt"
	"time"

	"eventrelay/internal/apperr"
	"eventrelay/internal/application/common"
	"eventrelay/internal/application/entity"
	use_cases "eventrelay/internal/application/use-cases"
	"eventrelay/pkg/validator"

	playgroundvalidator "github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Handler interface {
	Enqueue(c *fiber.Ctx) error
	Publish(c *fiber.Ctx) error
	ReplayFailed(c *fiber.Ctx) error
	Stats(c *fiber.Ctx) error
	ResetStats(c *fiber.Ctx) error
	HealthCheck(c *fiber.Ctx) error
}

type HandlerImpl struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewHandler(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *HandlerImpl {
	return &HandlerImpl{
		usecase: usecase,
		logger:  logger,
	}
}

func formatValidationErrors(err error) fiber.Map {
	var details []string
	if validationErrors, ok := err.(playgroundvalidator.ValidationErrors); ok {
		for _, e := range validationErrors {
			field := e.Field()
			tag := e.Tag()
			var message string
			switch tag {
			case "required":
				message = fmt.Sprintf("field %q is required", field)
			case "min":
				message = fmt.Sprintf("field %q must have at least %s characters", field, e.Param())
			case "max":
				message = fmt.Sprintf("field %q must have at most %s characters", field, e.Param())
			case "oneof":
				message = fmt.Sprintf("field %q must be one of: %s", field, e.Param())
			case "rfc3339", "rfc3339_optional":
				message = fmt.Sprintf("field %q must be RFC3339 (e.g. 2026-01-20T15:00:00Z)", field)
			default:
				message = fmt.Sprintf("field %q failed validation: %s", field, tag)
			}
			details = append(details, message)
		}
	} else {
		details = append(details, err.Error())
	}
	return fiber.Map{
		"error":   "validation failed",
		"details": details,
	}
}

// Enqueue writes an event through the transactional outbox.
func (h *HandlerImpl) Enqueue(c *fiber.Ctx) error {
	var req entity.EnqueueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewErr(c, fiber.StatusBadRequest, err)
	}

	if err := validator.Validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(formatValidationErrors(err))
	}

	ctx := common.WithCorrelationID(c.UserContext(), c.Get("X-Correlation-Id"))

	rec, err := h.usecase.Enqueue(ctx, req)
	if err != nil {
		h.logger.Errorw("enqueue failed", "err", err)
		return apperr.SanitizeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"eventId": rec.EventID,
		"status":  rec.Status,
	})
}

// Publish sends directly to the broker, bypassing the outbox.
func (h *HandlerImpl) Publish(c *fiber.Ctx) error {
	var req entity.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.NewErr(c, fiber.StatusBadRequest, err)
	}

	if err := validator.Validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(formatValidationErrors(err))
	}

	ctx := common.WithCorrelationID(c.UserContext(), c.Get("X-Correlation-Id"))

	if err := h.usecase.Publish(ctx, req); err != nil {
		h.logger.Errorw("direct publish failed", "topic", req.Topic, "err", err)
		return apperr.SanitizeError(c, err)
	}

	status := fiber.StatusOK
	if req.Mode == "async" {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{"status": true})
}

// ReplayFailed resets a FAILED record to PENDING.
func (h *HandlerImpl) ReplayFailed(c *fiber.Ctx) error {
	eventID := c.Params("id")
	if eventID == "" {
		return apperr.NewErr(c, fiber.StatusBadRequest, fmt.Errorf("event id is required"))
	}

	if err := h.usecase.ReplayFailed(c.UserContext(), eventID); err != nil {
		return apperr.SanitizeError(c, err)
	}

	return c.JSON(fiber.Map{"eventId": eventID, "status": entity.OutboxPending})
}

func (h *HandlerImpl) Stats(c *fiber.Ctx) error {
	stats, err := h.usecase.Stats(c.UserContext())
	if err != nil {
		return apperr.SanitizeError(c, err)
	}
	return c.JSON(stats)
}

func (h *HandlerImpl) ResetStats(c *fiber.Ctx) error {
	h.usecase.ResetStats()
	return c.JSON(fiber.Map{"status": true})
}

func (h *HandlerImpl) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	dbHealthy, kafkaHealthy, _ := h.usecase.HealthCheck(ctx)

	health := entity.HealthCheckResponse{
		Status:  dbHealthy && kafkaHealthy,
		Message: "success",
		Version: common.Version,
		Checks: entity.HealthCheckResponseData{
			Database: entity.HealthCheckItem{Status: dbHealthy, Type: "postgresql"},
			Kafka:    entity.HealthCheckItem{Status: kafkaHealthy, Type: "kafka"},
		},
	}

	status := fiber.StatusOK
	if !health.Status {
		health.Message = "degraded"
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(health)
}
