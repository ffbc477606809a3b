package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	handlers "github.com/wekeepgrowing/semo-billing/internal/adapter/handler/http"
	"github.com/wekeepgrowing/semo-billing/internal/config"
	"github.com/wekeepgrowing/semo-billing/internal/middleware/auth"
	"github.com/wekeepgrowing/semo-billing/pkg/logger"
)

// Handlers groups the HTTP handlers mounted by the server.
type Handlers struct {
	Plans   *handlers.PlansHandler
	Payment *handlers.PaymentHandler
	Billing *handlers.BillingHandler
	Metrics http.Handler
}

type Server struct {
	config   *config.Config
	logger   *zap.Logger
	echo     *echo.Echo
	handlers Handlers
}

func NewServer(cfg *config.Config, log *zap.Logger, h Handlers) *Server {
	e := echo.New()
	logger.WithEchoLogger(e, log)
	e.Validator = handlers.NewRequestValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(logger.NewEchoRequestLogger(log))

	s := &Server{
		config:   cfg,
		logger:   log,
		echo:     e,
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	addr := s.config.Server.HTTP.Address()
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
		})
	})
	if s.handlers.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.handlers.Metrics))
	}

	jwtConfig := auth.JWTConfig{
		Secret: s.config.JWT.Secret,
		Logger: s.logger,
	}

	v1 := s.echo.Group("/api/v1")

	// Public routes
	v1.GET("/plans", s.handlers.Plans.GetPlans)

	protected := v1.Group("", auth.JWTMiddleware(jwtConfig))
	protected.POST("/billing/payment-methods", s.handlers.Payment.RegisterPaymentMethod)

	internal := protected.Group("/internal", auth.RequireRole(s.config.JWT.OperatorRole, s.logger))
	internal.POST("/billing/runs", s.handlers.Billing.TriggerRun)
}
