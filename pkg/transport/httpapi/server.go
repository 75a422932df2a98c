package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/klauspost/compress/gzhttp"
)

// ListenSystemd selects the first socket passed by systemd activation.
const ListenSystemd = "systemd"

const unixPrefix = "unix:"

const shutdownTimeout = 5 * time.Second

// Server serves a handler on a TCP address, a unix socket or a
// socket-activated listener. Responses are gzip encoded when the client
// accepts it.
type Server struct {
	listen string
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server for listen. listen is a TCP address such as
// ":8080", "unix:/path/to/sock" or "systemd".
func NewServer(listen string, h http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen: listen,
		srv: &http.Server{
			Handler:           gzhttp.GzipHandler(h),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger,
	}
}

// Listen opens the listener. A stale unix socket is removed first.
func (s *Server) Listen() (net.Listener, error) {
	switch {
	case s.listen == ListenSystemd:
		lns, err := activation.Listeners()
		if err != nil {
			return nil, fmt.Errorf("socket activation: %w", err)
		}
		for _, ln := range lns {
			if ln != nil {
				return ln, nil
			}
		}
		return nil, errors.New("socket activation: no listeners passed")

	case strings.HasPrefix(s.listen, unixPrefix):
		path := strings.TrimPrefix(s.listen, unixPrefix)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", path, err)
		}
		return ln, nil

	default:
		ln, err := net.Listen("tcp", s.listen)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", s.listen, err)
		}
		return ln, nil
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.Shutdown()
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits briefly for in-flight
// requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("server shutdown", "err", err)
	}
	if strings.HasPrefix(s.listen, unixPrefix) {
		os.Remove(strings.TrimPrefix(s.listen, unixPrefix))
	}
}
