package gpudispatch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Supervisor owns the dispatcher's process lifecycle: binding the listening
// socket with retry, signaling readiness, running the server, and driving
// an orderly shutdown of the worker pool on SIGINT/SIGTERM.
type Supervisor struct {
	cfg     Config
	server  *Server
	pool    *WorkerPool
	logger  *Logger
	metrics *Metrics

	ready      *atomic.Bool
	shutdownIn *atomic.Bool
}

// NewSupervisor wires together the already-constructed server, pool and
// metrics exporter behind one lifecycle controller.
func NewSupervisor(cfg Config, server *Server, pool *WorkerPool, metrics *Metrics, logger *Logger) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		server:     server,
		pool:       pool,
		logger:     logger,
		metrics:    metrics,
		ready:      atomic.NewBool(false),
		shutdownIn: atomic.NewBool(false),
	}
}

// Bind listens on the configured port, retrying with a linear backoff
// (1s, 2s, 3s, ...) up to cfg.Server.BindRetries times. The listener is
// created with SO_REUSEADDR so a just-restarted dispatcher can rebind a
// port still draining TIME_WAIT connections from the previous instance.
func Bind(ctx context.Context, cfg ServerConfig) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := fmt.Sprintf(":%d", cfg.Port)

	var lastErr error
	retries := cfg.BindRetries
	if retries <= 0 {
		retries = 1
	}
	backoff := cfg.BindBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for attempt := 1; attempt <= retries; attempt++ {
		l, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return l, nil
		}
		lastErr = err
		if attempt < retries {
			time.Sleep(time.Duration(attempt) * backoff)
		}
	}
	return nil, fmt.Errorf("bind %s after %d attempts: %w", addr, retries, lastErr)
}

// MarkReady writes the zero-byte readiness file and flips the internal
// readiness flag. Called once the listener is bound and the accept loop is
// about to start.
func (s *Supervisor) MarkReady() error {
	if path := s.cfg.Server.ReadyFilePath; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create readiness file: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close readiness file: %w", err)
		}
	}
	s.ready.Store(true)
	return nil
}

// IsReady reports whether the dispatcher has bound its listener and
// written its readiness file.
func (s *Supervisor) IsReady() bool {
	return s.ready.Load()
}

// registerHealthRoutes adds /healthz and /readyz to the metrics HTTP
// server. /healthz reports the process is up; /readyz reports the
// dispatcher has finished binding and hasn't begun shutting down.
func (s *Supervisor) registerHealthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.IsReady() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
}

// Run blocks serving requests until SIGINT or SIGTERM is received, then
// drives an orderly shutdown of the server and worker pool.
func (s *Supervisor) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		go func() {
			err := s.metrics.Serve(ctx, s.cfg.Metrics.Endpoint, s.cfg.Metrics.Path, s.registerHealthRoutes)
			if err != nil {
				s.logger.ErrorContext(ctx, "metrics server exited", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.server.Serve(ctx) }()

	select {
	case sig := <-sigCh:
		s.logger.InfoContext(ctx, "received shutdown signal", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			s.logger.ErrorContext(ctx, "server exited unexpectedly", "error", err)
		}
	}

	return s.Shutdown(ctx)
}

// Shutdown stops accepting new connections and tears down every worker.
// Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.shutdownIn.CompareAndSwap(false, true) {
		return nil
	}
	s.ready.Store(false)

	s.logger.InfoContext(ctx, "shutting down")
	if err := s.server.Close(); err != nil {
		s.logger.WarnContext(ctx, "error closing listener", "error", err)
	}

	s.pool.shutdown()
	s.logger.InfoContext(ctx, "shutdown complete")
	return nil
}
