package httpapi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-places/internal/repository"
	"github.com/i474232898/weather-places/internal/store"
	"github.com/i474232898/weather-places/internal/weather"
)

// ErrorHandler renders every error as {"error":true,"message":...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "status", code, "error", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// commandError converts a failed command into a fiber error with the status
// code its taxonomy status maps to.
func commandError(err error) *fiber.Error {
	return fiber.NewError(statusCode(err), err.Error())
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrContractViolation):
		return fiber.StatusBadRequest
	case errors.Is(err, repository.ErrShuttingDown):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}

	switch weather.StatusOf(err) {
	case weather.StatusAlreadyPresent:
		return fiber.StatusConflict
	case weather.StatusNotFound:
		return fiber.StatusNotFound
	case weather.StatusTooManyRequests:
		return fiber.StatusTooManyRequests
	case weather.StatusAuthFailed:
		return fiber.StatusBadGateway
	case weather.StatusNoAnswer, weather.StatusNotConnected:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
