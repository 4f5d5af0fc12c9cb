package gpudispatch

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/atomic"
)

// ResponseSize is the fixed width of every wire response: one byte for the
// cold_start flag followed by a little-endian float32 inner_time_seconds.
const ResponseSize = 5

// Server is the TCP front-end. Each accepted connection performs exactly
// one read (up to messageSize bytes) and one write (the fixed 5-byte
// response) before closing.
type Server struct {
	listener    net.Listener
	scheduler   *Scheduler
	logger      *Logger
	messageSize int

	closing atomic.Bool
}

// NewServer wraps an already-bound listener around a scheduler. The
// listener's construction (bind retry, SO_REUSEADDR) is the lifecycle
// supervisor's responsibility, not the server's.
func NewServer(listener net.Listener, scheduler *Scheduler, logger *Logger, messageSize int) *Server {
	return &Server{
		listener:    listener,
		scheduler:   scheduler,
		logger:      logger,
		messageSize: messageSize,
	}
}

// Serve runs the accept loop until the listener is closed. It returns nil
// once the listener has been closed (through Close or otherwise) and the
// Accept error otherwise.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(ctx, conn)
	}
}

// Close stops the accept loop by closing the underlying listener.
func (s *Server) Close() error {
	s.closing.Store(true)
	return s.listener.Close()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx = WithTraceID(ctx)

	buf := make([]byte, s.messageSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.ErrorContext(ctx, "read from client failed", "error", err)
		return
	}

	result, dispatchErr := s.scheduler.Dispatch(ctx, buf[:n])

	resp := make([]byte, ResponseSize)
	if dispatchErr != nil {
		if !errors.Is(dispatchErr, ErrSaturated) {
			s.logger.ErrorContext(ctx, "dispatch failed", "error", dispatchErr)
		}
		// Saturation, a failed GPU boot and a failed worker IPC exchange
		// all degrade to a zero-valued response rather than closing the
		// connection without a reply: the wire contract is exactly one
		// read and one write per connection regardless of outcome.
	} else {
		if result.ColdStart {
			resp[0] = 1
		}
		// The worker's response payload IS the 4-byte little-endian
		// inner_time_seconds float32; the front-end only prepends the
		// cold-start byte, it never measures or re-encodes timing itself.
		// A handler error reaches here as an empty payload, which leaves
		// inner_time at 0.0 while the cold-start byte is still reported.
		if len(result.RespBytes) >= 4 {
			copy(resp[1:], result.RespBytes[:4])
		}
	}

	if _, err := conn.Write(resp); err != nil {
		s.logger.ErrorContext(ctx, "write to client failed", "error", err)
	}
}
