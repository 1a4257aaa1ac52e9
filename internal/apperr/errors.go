package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrRetriesExhausted marks a record that burned through its retry budget.
	// The record stays FAILED until an operator replays it.
	ErrRetriesExhausted = errors.New("max retries exhausted")

	// ErrEventLost is the one terminal outcome: direct publish failed, the
	// dead-letter send failed, and no backup strategy is configured.
	ErrEventLost = errors.New("event permanently lost")
)

// ValidationError means the record itself is malformed. It is never
// persisted and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
}

// SerializationError means the payload cannot be encoded. Retrying or
// dead-lettering a payload we cannot even serialize helps nobody, so it
// surfaces to the caller immediately.
type SerializationError struct {
	EventID string
	Err     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize event %s: %v", e.EventID, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PublishError wraps a transient broker/network/timeout failure. The
// dispatcher answers it with backoff and a later claim.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type ErrorResp struct {
	StatusCode int    `json:"statusCode,omitempty"`
	StatusDesc string `json:"statusDesc,omitempty"`
}

func (e ErrorResp) Error() string {
	return e.StatusDesc
}

var (
	ErrRecordNotFound = ErrorResp{
		http.StatusNotFound,
		"outbox record not found",
	}
	ErrRecordAlreadyExists = ErrorResp{
		http.StatusConflict,
		"outbox record already exists",
	}
	ErrRecordNotReplayable = ErrorResp{
		http.StatusConflict,
		"only FAILED records can be replayed",
	}
)

func SanitizeError(c *fiber.Ctx, err error) error {
	var errResp ErrorResp

	if ok := errors.As(err, &errResp); ok {
		return c.Status(errResp.StatusCode).JSON(fiber.Map{
			"message": errResp.StatusDesc,
		})
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return NewErr(c, http.StatusBadRequest, err)
	}

	return NewErr(c, http.StatusInternalServerError, err)
}

func NewErr(ctx *fiber.Ctx, status int, err error) error {
	return ctx.Status(status).JSON(fiber.Map{
		"message": err.Error(),
	})
}
