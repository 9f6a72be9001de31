package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/account-service/internal/api/metrics"
)

// RBAC lets a request through when its token carries any of allowedRoles.
// With no roles configured every authenticated caller passes. Must run after
// Auth.
func RBAC(allowedRoles ...string) echo.MiddlewareFunc {
	allowed := make([]string, 0, len(allowedRoles))
	for _, r := range allowedRoles {
		if r != "" {
			allowed = append(allowed, r)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
			}
			if len(allowed) == 0 {
				return next(c)
			}
			for _, role := range allowed {
				if claims.HasRole(role) {
					return next(c)
				}
			}
			metrics.AuthGateRejectionsTotal.WithLabelValues("forbidden_role").Inc()
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
	}
}
