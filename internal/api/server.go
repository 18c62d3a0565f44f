// Package api exposes the reservation engine over HTTP/JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"fusse/internal/booking"
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type Options struct {
	RateLimitEnabled bool
	Rate             float64 // requests per second per client
	Burst            int
	// Ready maps a dependency name to its readiness check.
	Ready map[string]Check
}

type Server struct {
	echo   *echo.Echo
	mgr    *booking.Manager
	opts   Options
	logger *zerolog.Logger
}

func New(mgr *booking.Manager, opts Options, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Server{echo: echo.New(), mgr: mgr, opts: opts, logger: logger}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleHTTPError
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(requestID(), requestLogger(s.logger), recoverer(s.logger), cors())

	limit := noLimit
	if s.opts.RateLimitEnabled {
		limit = rateLimit(newClientLimiter(s.opts.Rate, s.opts.Burst, 10*time.Minute))
	}

	e.GET("/", s.handleIndex)
	e.GET("/health", s.handleHealth)
	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)

	g := e.Group("/api/reservations")
	g.POST("", s.handleCreate, limit)
	g.POST("/check-availability", s.handleCheckAvailability, limit)
	g.GET("/slots/available", s.handleSlots)
	g.GET("/manifest", s.handleManifest)
	g.GET("/reference/:reference", s.handleGetByReference)
	g.GET("/:id", s.handleGet)
	g.PUT("/:id", s.handleUpdateStatus, limit)
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("address", addr).Msg("HTTP server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHTTPError renders router errors (404, 405, bind failures) as JSON.
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		_ = c.JSON(he.Code, echo.Map{"error": msg})
		return
	}
	_ = s.writeError(c, err)
}
