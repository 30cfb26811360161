package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iwasamnot/campuschat/internal/chat"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error sends a JSON error response.
func Error(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// mapServiceError converts a chat.ServiceError into an HTTP response. A
// rate-limit rejection carries a Retry-After header so clients can show the
// remaining wait without parsing the message.
func mapServiceError(c echo.Context, err error) error {
	var serr *chat.ServiceError
	if !errors.As(err, &serr) {
		return Error(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(serr.Err, chat.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(serr.Err, chat.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(serr.Err, chat.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(serr.Err, chat.ErrRateLimited):
		status = http.StatusTooManyRequests
		c.Response().Header().Set("Retry-After", strconv.FormatInt(int64(serr.RetryAfter.Milliseconds()), 10))
	case errors.Is(serr.Err, chat.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	return Error(c, status, serr.Code, serr.Message)
}
