package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/repomigrate/internal/logger"
)

// ShutdownTimeout bounds how long Shutdown waits for in-flight scrapes.
const ShutdownTimeout = 5 * time.Second

// HealthFunc reports whether the service is healthy.
type HealthFunc func(ctx context.Context) error

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	echo    *echo.Echo
	addr    string
	metrics *Metrics
	health  HealthFunc
	log     logger.Logger

	listener net.Listener
	done     chan error
}

// NewServer creates an endpoint server listening on addr. A nil health func
// always reports healthy.
func NewServer(addr string, m *Metrics, health HealthFunc, log logger.Logger) (*Server, error) {
	if m == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		addr:    addr,
		metrics: m,
		health:  health,
		log:     log.Module(logger.ComponentMetrics),
	}

	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/healthz", s.handleHealth)
	return s, nil
}

// Handler returns the HTTP handler for the server routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.health != nil {
		if err := s.health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.echo.Listener = ln
	s.done = make(chan error, 1)

	go func() {
		s.log.Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		err := s.echo.Start("")
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.log.Error("metrics HTTP server error", logger.Error(err))
		}
		s.done <- err
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()

	s.log.Info("stopping metrics endpoint")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return <-s.done
}
