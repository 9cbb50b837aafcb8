package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	"github.com/pscheid92/quickpoll/internal/domain"
	"github.com/pscheid92/quickpoll/internal/platform/config"
)

type appService interface {
	ListPolls(ctx context.Context) ([]domain.Poll, error)
	GetPoll(ctx context.Context, pollID int64) (*domain.Poll, error)
	CreatePoll(ctx context.Context, question string, options []string) (*domain.Poll, error)
	Vote(ctx context.Context, optionID int64) error
	Like(ctx context.Context, pollID int64) error
	EditPoll(ctx context.Context, pollID int64, token, question string, options []domain.OptionInput) (*domain.Poll, error)
	DeletePoll(ctx context.Context, pollID int64, token string) error
}

// websocketHandler upgrades a request after the server resolved the client IP.
type websocketHandler interface {
	Serve(w http.ResponseWriter, r *http.Request, clientIP string)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app              appService
	websocketHandler websocketHandler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(cfg *config.Config, app appService, wsHandler websocketHandler, httpMetrics *metrics.HTTPMetrics, metricsHandler http.Handler, clock clockwork.Clock, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		app:              app,
		websocketHandler: wsHandler,
		metricsHandler:   metricsHandler,
		httpMetrics:      httpMetrics,
		healthChecks:     healthChecks,
		clock:            clock,
		startTime:        clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

// Start blocks until the server stops. After Shutdown it returns an error
// wrapping http.ErrServerClosed.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the full middleware and route stack, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
