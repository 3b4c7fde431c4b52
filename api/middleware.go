// Package api exposes the service's REST endpoints over Echo, wiring
// jobstore/scheduler/runner behind a single static bearer token.
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// BearerAuthMiddleware rejects any request whose Authorization header is
// not "Bearer <token>" matching the configured token. /healthz is wired
// outside this middleware's group by the caller, so it is never checked
// here.
func BearerAuthMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			if strings.TrimPrefix(header, prefix) != token {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			return next(c)
		}
	}
}
