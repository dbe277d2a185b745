package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/madello/paarvai/internal/errors"
	"github.com/madello/paarvai/internal/feed"
	"github.com/madello/paarvai/internal/logger"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

func newErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// statusFor maps feed and enhanced errors to HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, feed.ErrNotFound), errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrInvalidFilterValue), errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, feed.ErrServiceStopped), errors.Is(err, feed.ErrServiceNotStarted),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError logs err and writes an ErrorResponse with the mapped status.
func (s *Server) handleError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := newErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Request().URL.Path),
		logger.Int("status", code),
		logger.Error(err),
	}
	log := s.log.WithContext(c.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Debug(message, fields...)
	}
	return c.JSON(code, resp)
}

// httpErrorHandler renders echo errors, such as unknown routes, as ErrorResponse.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	message := http.StatusText(statusFor(err))
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if herr := s.handleError(c, err, message); herr != nil {
		s.log.Warn("failed to write error response", logger.Error(herr))
	}
}
