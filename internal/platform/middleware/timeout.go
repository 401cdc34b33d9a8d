package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on each request context. Handlers and the
// database driver abort their work once the deadline passes, and the
// surfaced context error is mapped to a 504. The /ws endpoint is exempt
// because those connections are long-lived.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isLongLivedPath(c.Request().URL.Path) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request deadline exceeded")
			}
			return err
		}
	}
}

func isLongLivedPath(path string) bool {
	return path == "/ws" || strings.HasPrefix(path, "/ws/")
}
