// Package smtp exposes the relay pipeline as a plaintext SMTP listener.
// No AUTH mechanism is offered and STARTTLS is not advertised.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"
)

// defaultShutdownTimeout is how long idle clients get to disconnect once every
// message in flight has been processed.
const defaultShutdownTimeout = 30 * time.Second

// Config holds the listener settings.
type Config struct {
	// Addr is the address to listen on (e.g., "127.0.0.1:2525").
	Addr string

	// Domain is the server hostname used in the greeting and EHLO responses.
	Domain string

	MaxMessageBytes int64
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is an SMTP server that feeds every received message to a Processor.
type Server struct {
	config    Config
	processor Processor

	mu       sync.Mutex
	listener net.Listener
	backend  *Backend
}

// New creates a new SMTP Server with the given configuration.
func New(cfg Config, p Processor) *Server {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		config:    cfg,
		processor: p,
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It then stops
// accepting and returns only after every message in flight has been processed
// and answered. Messages being processed are not cancelled by ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	backend := NewBackend(context.WithoutCancel(ctx), s.processor)
	srv := s.newServer(backend)

	s.mu.Lock()
	s.listener = ln
	s.backend = backend
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"auth_enabled", false,
		"tls_enabled", false,
		"max_message_bytes", s.config.MaxMessageBytes,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, gosmtp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down SMTP server", "active_sessions", backend.Active())
	s.shutdown(srv, backend)

	if err := <-errCh; err != nil && !errors.Is(err, gosmtp.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) newServer(backend *Backend) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = s.config.Addr
	srv.Domain = s.config.Domain
	srv.ReadTimeout = s.config.ReadTimeout
	srv.WriteTimeout = s.config.WriteTimeout
	srv.MaxMessageBytes = s.config.MaxMessageBytes
	srv.MaxRecipients = s.config.MaxRecipients
	srv.ErrorLog = slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)
	return srv
}

// shutdown closes the listener and waits for every DATA in progress to run to
// completion. Connections left open after that get the shutdown timeout to
// quit before they are closed.
func (s *Server) shutdown(srv *gosmtp.Server, backend *Backend) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Shutdown(ctx)
	}()

	backend.drain()
	slog.Info("all in-flight messages processed", "active_sessions", backend.Active())

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("error during shutdown", "error", err)
		}
		slog.Info("all sessions completed")
	case <-timer.C:
		slog.Warn("shutdown timeout reached, closing idle sessions",
			"active_sessions", backend.Active(),
		)
		cancel()
		<-done
		backend.closeAll()
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
