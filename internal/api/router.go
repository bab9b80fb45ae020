// Package api serves the local admin HTTP API of the supervisor.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/kitsync/internal/history"
	"github.com/opensandbox/kitsync/internal/metrics"
	"github.com/opensandbox/kitsync/internal/mocksignal"
	"github.com/opensandbox/kitsync/pkg/types"
)

// Runtime is the supervisor surface exposed over HTTP.
type Runtime interface {
	RuntimeInfo() types.RuntimeInfo
	RuntimeCount() types.RuntimeCount
	Handle(ctx context.Context, raw []byte) int
}

// RunLog lists recent runner history.
type RunLog interface {
	Recent(limit int) ([]history.Run, error)
}

// Link reports whether a connection is up.
type Link interface {
	Connected() bool
}

// Options are the dependencies of a Server. Runs, Channel and Broker are
// optional.
type Options struct {
	KitID   string
	APIKey  string
	Runtime Runtime
	Signals *mocksignal.Synchronizer
	Runs    RunLog
	Channel Link
	Broker  Link
}

// Server holds the admin API dependencies.
type Server struct {
	echo *echo.Echo
	opts Options
}

// NewServer creates the admin API with all routes configured.
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, opts: opts}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(metrics.EchoMiddleware())

	// Health check and metrics (no auth)
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("")
	api.Use(APIKeyMiddleware(opts.KitID, opts.APIKey))

	api.GET("/runtime", s.runtime)
	api.GET("/mock-signals", s.listSignals)
	api.PUT("/mock-signals", s.replaceSignals)
	api.POST("/mock-signals/offer", s.offerSignals)
	api.GET("/runs", s.listRuns)
	api.POST("/commands", s.runCommand)

	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
