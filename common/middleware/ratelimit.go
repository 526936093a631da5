package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/superdesk/legalarchive/common/logger"
	"github.com/superdesk/legalarchive/common/ratelimit"
)

// Limiter counts hits per key
type Limiter interface {
	Check(ctx context.Context, key string) (*ratelimit.Result, error)
}

// RateLimit rejects requests over the limiter's budget for key with 429.
// Limiter errors let the request through.
func RateLimit(limiter Limiter, key string, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := limiter.Check(c.Request().Context(), key)
			if err != nil {
				log.Warn("rate limit check failed, allowing request", "key", key, "error", err)
				return next(c)
			}

			if !result.Allowed {
				retry := int64(math.Ceil(result.RetryAfter.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Too many requests. Please try again later.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": retry,
					},
				})
			}

			return next(c)
		}
	}
}
