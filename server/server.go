package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/ariavoice/aria/internal/profile"
	"github.com/ariavoice/aria/plugin/ai"
	"github.com/ariavoice/aria/server/router/apiv1"
	"github.com/ariavoice/aria/store"
)

// Server hosts the HTTP API backing remote assistant clients.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	logger     *slog.Logger
}

// NewServer assembles the HTTP server. The LLM service may be nil when no
// model backend is configured; persistence endpoints still work.
func NewServer(_ context.Context, p *profile.Profile, st *store.Store, llm ai.LLMService, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))

	s := &Server{
		Profile:    p,
		Store:      st,
		echoServer: e,
		logger:     logger,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	apiv1.NewAPIV1Service(p, st, llm, logger).Register(e)

	return s, nil
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.logger.Info("server started", "address", address, "version", s.Profile.Version)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shut down server gracefully", "error", err)
		}
	}()

	if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to start server")
	}
	return nil
}

// Shutdown closes the store after the HTTP server stops.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shut down server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		s.logger.Error("failed to close store", "error", err)
	}
	s.logger.Info("server shut down")
}
