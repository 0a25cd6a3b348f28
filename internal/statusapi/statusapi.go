// Package statusapi is an optional, read-only operations surface over the
// registry: liveness and live server/client counts. It never echoes
// opaque heartbeat payloads — the meta-server performs no authentication
// of game-server content and the status endpoint preserves that boundary
// by only ever reporting counts, not bytes.
package statusapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"metaserve/internal/registry"
)

// Server wraps an Echo application exposing the registry's health and
// counts.
type Server struct {
	echo *echo.Echo
	reg  *registry.Registry
	log  *slog.Logger
}

// New constructs the status API over reg.
func New(reg *registry.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestIDMiddleware())
	e.Use(requestLogger(log))

	s := &Server{echo: e, reg: reg, log: log}
	e.GET("/health", s.handleHealth)
	e.GET("/api/registry", s.handleRegistry)
	return s
}

// requestIDMiddleware stamps each request with a correlation id, carried
// through to the access log, rather than leaving ad hoc request tracing
// to string matching on timestamps.
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := uuid.NewString()
			c.Set("request_id", id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Debug("status api request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Get("request_id"),
			)
			return nil
		}
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type registryResponse struct {
	Servers int `json:"servers"`
	Clients int `json:"clients"`
}

func (s *Server) handleRegistry(c echo.Context) error {
	return c.JSON(http.StatusOK, registryResponse{
		Servers: s.reg.ServerCount(),
		Clients: s.reg.ClientCount(),
	})
}

// Run starts the status API and blocks until ctx is canceled or startup
// fails. Returns immediately if addr is empty.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down status api")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}
