// Package server is the HTTP transport: a net/http.ServeMux router, a
// bearer-token/CORS/logging/recovery middleware stack, and the handlers for
// the job-submission and status-polling surface. The job execution engine
// underneath depends on none of this package.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/hilci/internal/app"
	"github.com/bobmcallan/hilci/internal/common"
)

// Server wraps the HTTP server and the assembled App it serves.
type Server struct {
	app    *app.App
	server *http.Server
	logger *common.Logger
}

// New builds a Server bound to a's configured host and port.
func New(a *app.App) *Server {
	s := &Server{app: a, logger: a.Logger}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	handler := applyMiddleware(mux, a.Logger, a.Config.AuthTokens)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the wrapped HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server; blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
