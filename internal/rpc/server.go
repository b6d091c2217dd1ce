// Package rpc is the daemon's service layer (C8): thin JSON request/response
// handlers over C1-C7 plus two streaming endpoints (attach, subscribe) on
// gorilla/websocket upgrades, served over a UNIX-domain socket.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"wtmux/internal/daemon"
)

// Server owns the UNIX-socket listener and the http.Server multiplexing
// every RPC plus the two websocket upgrade endpoints.
type Server struct {
	listener net.Listener
	http     *http.Server
	logger   *slog.Logger
}

// New binds the UNIX socket at socketPath (removing any stale socket file
// left by a prior unclean shutdown) and wires every handler against d.
func New(socketPath string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("rpc: removing stale socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen on %s: %w", socketPath, err)
	}

	h := &handlers{d: d, logger: logger}
	mux := http.NewServeMux()
	h.register(mux)

	return &Server{
		listener: listener,
		http:     &http.Server{Handler: mux},
		logger:   logger,
	}, nil
}

// Serve accepts connections until ctx is cancelled, mirroring the
// listener-owns-lifecycle shape of the daemon's session transport.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.http.Shutdown(context.Background())
	}()

	s.logger.Info("rpc: serving", "addr", s.listener.Addr())

	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close tears down the listener immediately, for error paths that never
// reach Serve.
func (s *Server) Close() error {
	return s.listener.Close()
}
