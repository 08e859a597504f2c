package api

import (
	"strings"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/userhub/account-api/docs"
	"github.com/userhub/account-api/internal/api/handler"
	"github.com/userhub/account-api/internal/api/middleware"
	"github.com/userhub/account-api/internal/core/domain"
	"github.com/userhub/account-api/internal/core/ports"
)

// Dependencies are the collaborators the HTTP layer is built from.
type Dependencies struct {
	Accounts ports.AccountService
	Tokens   ports.TokenVerifier
	// Health lists the dependencies checked by the readiness probe.
	Health []handler.Dependency
	Log    zerolog.Logger
	// Registerer and Gatherer default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(deps.Log))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "accounts",
		Registerer: deps.Registerer,
		Skipper:    skipInfrastructure,
	}))
	e.Use(middleware.Authenticate(deps.Tokens, deps.Log))

	// --- Account routes ---
	accounts := handler.NewAccountHandler(deps.Accounts)
	e.POST("/auth/register", accounts.Register)
	e.POST("/auth/login", accounts.Login)
	e.GET("/me", accounts.Me, middleware.Authorize("me"))
	e.GET("/users", accounts.Users, middleware.Authorize("users", domain.RoleAdmin))

	// --- Probes, metrics and docs (no auth required) ---
	health := handler.NewHealthHandler(deps.Log, deps.Health...)
	e.GET("/health", health.Liveness)
	e.GET("/health/ready", health.Readiness)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: deps.Gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

func skipInfrastructure(c echo.Context) bool {
	p := c.Path()
	return p == "/metrics" || strings.HasPrefix(p, "/health") || strings.HasPrefix(p, "/swagger")
}
