package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/madello/paarvai/internal/logger"
)

const rateLimiterExpiry = 3 * time.Minute

func generateRequestID() string {
	return uuid.NewString()
}

// generateCorrelationID returns a short id for error responses.
func generateCorrelationID() string {
	return uuid.NewString()[:8]
}

func isStreamRequest(c echo.Context) bool {
	return strings.HasSuffix(c.Request().URL.Path, "/stream")
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// requestLogger tags the request context with the request id and logs one
// line per request after it completes.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), requestID(c))))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("path", c.Request().URL.Path),
				logger.Int("status", status),
				logger.Duration("took", time.Since(start)),
				logger.String("ip", c.RealIP()),
			}
			log := s.log.WithContext(c.Request().Context())
			if status >= http.StatusInternalServerError {
				log.Warn("http request failed", fields...)
			} else {
				log.Debug("http request", fields...)
			}
			return nil
		}
	}
}

// metricsMiddleware records requests by route template.
func (s *Server) metricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isStreamRequest(c) {
				return next(c)
			}
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			s.metrics.RecordRequest(c.Request().Method, path, c.Response().Status, time.Since(start))
			return nil
		}
	}
}

// newRateLimiter limits each client IP to rps requests per second.
func newRateLimiter(rps float64, burst int) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		Store: echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(rps),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, newErrorResponse(err, "client not identified", http.StatusForbidden))
		},
		DenyHandler: func(c echo.Context, _ string, err error) error {
			return c.JSON(http.StatusTooManyRequests, newErrorResponse(err, "rate limit exceeded", http.StatusTooManyRequests))
		},
	})
}
