package gpudispatch

import (
	"context"
	"fmt"
	"sync"
)

// Handler is the single entry point a worker function module must
// implement: it consumes an opaque request blob and returns an opaque
// response blob. gpu is the GPU index the worker was bound to at spawn,
// mirroring the WORKER_GPU environment contract for in-process callers.
type Handler func(ctx context.Context, gpu int, req []byte) ([]byte, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Handler{}
)

// Register adds a named handler to the process-wide function registry.
// Packages implementing a worker function call this from an init()
// function, the Go-native stand-in for dynamically importing a module
// by dotted name.
func Register(name string, h Handler) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("gpudispatch: handler %q already registered", name))
	}
	registry[name] = h
}

// Lookup resolves a handler by name. A missing name is the Go analogue
// of a Python import failure: fatal to the worker process that requested it.
func Lookup(name string) (Handler, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[name]
	return h, ok
}
