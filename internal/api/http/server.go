package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/frkb/fingerprint-sync/internal/logger"
	"github.com/frkb/fingerprint-sync/internal/model"
)

// Server wraps the stdlib HTTP server behind model.Server, the same seam
// the teacher used for its gRPC server, so cmd/main.go can start and stop
// either transport identically.
type Server struct {
	addr   string
	srv    *http.Server
	logger *logger.Logger
}

func NewServer(addr string, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		addr:   addr,
		srv:    &http.Server{Handler: handler},
		logger: log,
	}
}

// Start binds a listener via securityLayer and serves until Stop is
// called or the listener errors.
func (s *Server) Start(securityLayer model.SecurityLayer) error {
	listener, err := securityLayer.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("http server listening", "addr", s.addr)
	if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server stopped unexpectedly: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, letting in-flight requests drain
// until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) Address() string {
	return s.addr
}
