package gpudispatch

import (
	"context"
	"fmt"
	"sync"
)

// WorkerPool owns the spawned worker processes for every GPU and the
// sockets they bind. It never decides which worker to use; the Scheduler
// does that. It only spawns, sends to, and tears down workers by index.
type WorkerPool struct {
	cfg    WorkerConfig
	socket *SocketManager
	logger *Logger

	mu      sync.Mutex
	workers [][]*Worker // workers[g][i]

	shutdownOnce sync.Once
}

// NewWorkerPool creates an empty pool for numGPUs GPUs. Each GPU's workers
// are spawned as a single batch the first time the scheduler's expansion
// path touches that GPU; bootBatch never grows an already-booted GPU.
func NewWorkerPool(numGPUs int, cfg WorkerConfig, socket *SocketManager, logger *Logger) *WorkerPool {
	workers := make([][]*Worker, numGPUs)
	return &WorkerPool{
		cfg:     cfg,
		socket:  socket,
		logger:  logger,
		workers: workers,
	}
}

// workerCount returns the number of workers currently spawned for GPU g.
// The scheduler does not call it; it tracks GPU shape in its own state.
func (p *WorkerPool) workerCount(g int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers[g])
}

// totalWorkers returns the number of workers spawned across all GPUs. The
// scheduler enforces the global G*M cap from len(gpuLoad), not from this.
func (p *WorkerPool) totalWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ws := range p.workers {
		n += len(ws)
	}
	return n
}

// bootBatch spawns m fresh worker processes bound to GPU g in one shot and
// returns them in slot order. A GPU is booted exactly once, with its full
// worker count fixed at m from then on; calling bootBatch again for a GPU
// that already has workers is an error. The caller (Scheduler.reserve) must
// hold its own mutex across this call so the expansion decision and the
// spawn stay atomic with respect to other dispatches.
func (p *WorkerPool) bootBatch(ctx context.Context, g, m int) ([]*Worker, error) {
	p.mu.Lock()
	if len(p.workers[g]) != 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("gpu %d already booted", g)
	}
	p.mu.Unlock()

	booted := make([]*Worker, 0, m)
	for index := 0; index < m; index++ {
		socketPath := p.socket.SocketPath(g, index)
		w := newWorker(workerSpec{gpu: g, index: index, socketPath: socketPath}, p.cfg, p.logger)
		if err := w.Start(ctx); err != nil {
			for _, started := range booted {
				if stopErr := started.Stop(); stopErr != nil {
					p.logger.Error("error stopping partially booted worker", "gpu", g, "worker", started.Index(), "error", stopErr)
				}
			}
			return nil, fmt.Errorf("boot worker %d for gpu %d: %w", index, g, err)
		}
		booted = append(booted, w)
	}

	p.mu.Lock()
	p.workers[g] = booted
	p.mu.Unlock()

	return booted, nil
}

// worker returns the worker at GPU g, slot i, or nil if that GPU has not
// been booted or the slot is out of range.
func (p *WorkerPool) worker(g, i int) *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g < 0 || g >= len(p.workers) || i < 0 || i >= len(p.workers[g]) {
		return nil
	}
	return p.workers[g][i]
}

// send dispatches req to worker (g, i) and returns its response. This must
// be called outside the scheduler's mutex: it blocks on process IPC, and
// the busy bit reserved before release already prevents any other caller
// from reaching the same worker concurrently.
func (p *WorkerPool) send(g, i int, req []byte) ([]byte, error) {
	w := p.worker(g, i)
	if w == nil {
		return nil, fmt.Errorf("no worker at gpu %d slot %d", g, i)
	}
	return w.Send(req)
}

// shutdown stops every spawned worker, joining each with its configured
// stop timeout before forcing a kill. Safe to call once; subsequent calls
// are no-ops.
func (p *WorkerPool) shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		all := make([]*Worker, 0)
		for _, ws := range p.workers {
			all = append(all, ws...)
		}
		p.mu.Unlock()

		var wg sync.WaitGroup
		for _, w := range all {
			w := w
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Stop(); err != nil {
					p.logger.Error("error stopping worker", "gpu", w.GPU(), "worker", w.Index(), "error", err)
				}
			}()
		}
		wg.Wait()

		if err := p.socket.CleanupAllSockets(); err != nil {
			p.logger.Error("error cleaning up sockets", "error", err)
		}
	})
}
