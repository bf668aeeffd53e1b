package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/kittybank/kitty/internal/apperr"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorHandler renders domain and Fiber errors as {"error", "code"}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(errorBody{Error: fe.Message, Code: httpCode(fe.Code)})
		}

		status := apperr.Status(err)
		code := apperr.CodeOf(err)
		message := err.Error()
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", slog.String("path", c.Path()), slog.String("code", code), slog.Any("error", err))
			if code == "INTERNAL" {
				message = "internal server error"
			}
		}
		return c.Status(status).JSON(errorBody{Error: message, Code: code})
	}
}

func httpCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "UNPROCESSABLE"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= fiber.StatusInternalServerError {
			return "INTERNAL"
		}
		return "REQUEST_FAILED"
	}
}
