// Package refworkers implements the worker-side half of the dispatcher:
// the code that runs inside a spawned worker process, plus reference
// worker functions (a CPU matmul and an always-failing stub) registered
// against the handler registry so the dispatcher
// is runnable without a caller supplying their own function module.
package refworkers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/coldboot/gpudispatch/internal/framing"
	"github.com/coldboot/gpudispatch/pkg/gpudispatch"
)

// RunWorker is the entry point for the self-reexeced worker subcommand. It
// resolves its bound GPU and function from the environment, binds its IPC
// socket, and serves requests from the single connection the dispatcher's
// worker pool opens to it until idle-timeout or its parent tears it down.
func RunWorker() error {
	gpuStr := os.Getenv(gpudispatch.EnvWorkerGPU)
	function := os.Getenv(gpudispatch.EnvWorkerFunction)
	socketPath := os.Getenv(gpudispatch.EnvWorkerSocket)

	if socketPath == "" {
		return fmt.Errorf("refworkers: %s not set", gpudispatch.EnvWorkerSocket)
	}
	gpu, err := strconv.Atoi(gpuStr)
	if err != nil {
		return fmt.Errorf("refworkers: invalid %s=%q: %w", gpudispatch.EnvWorkerGPU, gpuStr, err)
	}

	// A missing handler is fatal: the Go analogue of a Python import
	// failure when a worker tries to load its assigned function module.
	handler, ok := gpudispatch.Lookup(function)
	if !ok {
		return fmt.Errorf("refworkers: no handler registered for function %q", function)
	}

	idleTimeout := time.Minute
	if raw := os.Getenv(gpudispatch.EnvWorkerIdle); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			idleTimeout = d
		}
	}

	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("refworkers: listen on %s: %w", socketPath, err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("refworkers: accept: %w", err)
	}
	defer conn.Close()

	return serve(conn, gpu, handler, idleTimeout)
}

func serve(conn net.Conn, gpu int, handler gpudispatch.Handler, idleTimeout time.Duration) error {
	f := framing.NewFramer(conn)
	ctx := context.Background()

	for {
		if deadliner, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = deadliner.SetReadDeadline(time.Now().Add(idleTimeout))
		}

		req, err := f.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				// No request within the idle window: exit cleanly so the
				// pool's monitor sees a normal termination, not a crash.
				return nil
			}
			return nil
		}

		resp, handlerErr := handler(ctx, gpu, req)
		if handlerErr != nil {
			// A handler error is nonfatal: log to stderr (captured by the
			// parent) and answer with an empty payload, keeping the
			// worker alive for the next request.
			fmt.Fprintf(os.Stderr, "refworkers: handler error: %v\n", handlerErr)
			resp = nil
		}

		if err := f.WriteMessage(resp); err != nil {
			return nil
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
