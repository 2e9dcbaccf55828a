// Package http serves the client WebSocket ingress and the auxiliary HTTP
// endpoints: health, metrics and document generation.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Server wraps the HTTP listener.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates an HTTP server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// No read or write timeout: WebSocket sessions are long lived and
			// set their own per-frame write deadlines.
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Start listens on the configured address and serves in a goroutine. Serve
// errors other than a clean shutdown are sent on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.addr = lis.Addr().String()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
			errc <- err
		}
		close(errc)
	}()
	return errc, nil
}

// Addr returns the listen address, resolved once Start has run.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully shuts down the HTTP server. Hijacked WebSocket
// connections are not tracked by it; the bridge service drains those.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
