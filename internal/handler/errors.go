package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/table-reservation/internal/booking"
)

// statusFor maps booking errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrDateNotBookable), errors.Is(err, booking.ErrSlotNotOffered):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrCapacityExceeded), errors.Is(err, booking.ErrAlreadyCancelled):
		return http.StatusConflict
	case errors.Is(err, booking.ErrCapacityCheckTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": kind, "message": text}.  Storage and
// unknown failures hide their details from the client and are logged to log.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		req := c.Request()
		log.Error("request failed",
			zap.Error(err),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
		msg = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(status, echo.Map{"error": booking.Kind(err), "message": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_input", "message": msg})
}
