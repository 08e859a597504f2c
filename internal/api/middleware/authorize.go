package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/userhub/account-api/internal/api/metrics"
	"github.com/userhub/account-api/internal/core/domain"
	"github.com/userhub/account-api/internal/core/service"
)

// Authorize rejects the request before the handler runs unless the identity
// set by Authenticate satisfies requiredRoles. An empty role set only
// requires an authenticated user. operation labels the metrics.
func Authorize(operation string, requiredRoles ...string) echo.MiddlewareFunc {
	roles := append([]string(nil), requiredRoles...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := domain.IdentityFrom(c.Request().Context())
			if err := service.Authorize(id, roles...); err != nil {
				result := "denied"
				if errors.Is(err, domain.ErrNotAuthenticated) {
					result = "unauthenticated"
				}
				metrics.AuthorizationDecisionsTotal.WithLabelValues(operation, result).Inc()
				return err
			}
			metrics.AuthorizationDecisionsTotal.WithLabelValues(operation, "allowed").Inc()
			return next(c)
		}
	}
}
