package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/99minutos/account-service/docs"
	"github.com/99minutos/account-service/internal/api/handler"
	"github.com/99minutos/account-service/internal/api/middleware"
	"github.com/99minutos/account-service/internal/core/ports"
)

// Dependencies is everything the router needs to serve requests.
type Dependencies struct {
	Accounts ports.AccountService
	Tokens   middleware.TokenVerifier
	// Checks are pinged by the readiness check, keyed by dependency name.
	Checks map[string]handler.Checker
	// ListUsersRoles optionally restricts the user listing to these roles.
	ListUsersRoles []string
	Log            zerolog.Logger

	// Registerer and Gatherer back the HTTP metrics. When nil a private
	// registry is used.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	if deps.Registerer == nil || deps.Gatherer == nil {
		reg := prometheus.NewRegistry()
		deps.Registerer, deps.Gatherer = reg, reg
	}

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(deps.Log))
	e.Use(echomiddleware.CORS())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "account",
		Registerer: deps.Registerer,
	}))

	// --- Account routes ---
	accountHandler := handler.NewAccountHandler(deps.Accounts)
	gate := []echo.MiddlewareFunc{
		middleware.Auth(deps.Tokens),
		middleware.RBAC(deps.ListUsersRoles...),
	}

	account := e.Group("/api/account")
	account.POST("/register", accountHandler.Register)
	account.POST("/create-token", accountHandler.CreateToken)
	// Paths used by the existing browser client.
	account.POST("/Register", accountHandler.Register)
	account.POST("/CreateToken", accountHandler.CreateToken)

	account.GET("", accountHandler.ListUsers, gate...)
	account.GET("/user", accountHandler.ListUsers, gate...)
	account.GET("/all", accountHandler.Public)

	// --- Health checks (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Checks)

	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", healthDepsHandler.Readiness)

	// --- Ops ---
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: deps.Gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil {
				evt = log.Warn().Err(v.Error)
			}
			evt.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
