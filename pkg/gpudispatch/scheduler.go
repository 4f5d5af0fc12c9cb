package gpudispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// Scheduler implements the autoscaling dispatch algorithm: for every
// incoming request, pick the least-loaded GPU, then the least-loaded
// worker on that GPU, reusing it if idle. A GPU is booted the first time
// it is chosen and every other GPU with lower or equal load is already
// fully busy; booting spawns all maxReqPerGPU of its workers in one shot,
// so a GPU's worker count never grows after that. Expansion to a new GPU
// only happens once every already-booted GPU is completely busy, and only
// if the global cap of numGPUs*maxReqPerGPU hasn't been reached.
//
// All bookkeeping state is guarded by a single mutex. Booting a GPU
// happens while the mutex is held, keeping the expansion decision and the
// spawn atomic against concurrent dispatches; sending the request to the
// worker happens after the mutex is released.
type Scheduler struct {
	pool *WorkerPool

	mu         sync.Mutex
	gpuLoad    []int   // gpuLoad[g] = number of busy workers on GPU g; grows by one entry each time a GPU is booted
	workerLoad [][]int // workerLoad[g] allocated at boot time with maxReqPerGPU zeros; workerLoad[g][i] = 0 (idle) or 1 (busy)

	maxReqPerGPU int
	numGPUs      int

	metrics *Metrics
}

// NewScheduler creates a scheduler over numGPUs GPUs, each allowed up to
// maxReqPerGPU concurrently busy workers. No GPU is booted until the first
// dispatch needs one.
func NewScheduler(pool *WorkerPool, numGPUs, maxReqPerGPU int, metrics *Metrics) *Scheduler {
	return &Scheduler{
		pool:         pool,
		gpuLoad:      make([]int, 0, numGPUs),
		workerLoad:   make([][]int, 0, numGPUs),
		maxReqPerGPU: maxReqPerGPU,
		numGPUs:      numGPUs,
		metrics:      metrics,
	}
}

// Result carries the outcome of a single dispatch. RespBytes is exactly
// what the worker returned: for the reference handlers, a 4-byte
// little-endian float32 of inner_time_seconds, which the TCP front-end
// forwards as-is after prepending the cold-start byte.
type Result struct {
	ColdStart bool
	RespBytes []byte
	InnerTime time.Duration
}

// Dispatch selects a GPU and worker for req, spawning a new worker if
// necessary, sends req to it, and returns the response. It returns
// ErrSaturated if every worker across every GPU is busy and the pool has
// already reached its global cap of numGPUs*maxReqPerGPU workers.
func (s *Scheduler) Dispatch(ctx context.Context, req []byte) (Result, error) {
	s.mu.Lock()

	g, i, coldStart, err := s.reserve(ctx)
	if err != nil {
		s.mu.Unlock()
		if s.metrics != nil && errors.Is(err, ErrSaturated) {
			s.metrics.DispatchSaturated.Inc()
		}
		return Result{}, err
	}

	s.mu.Unlock()

	if coldStart && s.metrics != nil {
		s.metrics.ColdStarts.Inc()
	}
	if s.metrics != nil {
		s.metrics.GPULoad.WithLabelValues(gpuLabel(g)).Inc()
	}

	start := time.Now()
	resp, sendErr := s.pool.send(g, i, req)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.workerLoad[g][i] = 0
	s.gpuLoad[g]--
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.GPULoad.WithLabelValues(gpuLabel(g)).Dec()
		s.metrics.DispatchLatency.Observe(elapsed.Seconds())
	}

	if sendErr != nil {
		return Result{}, sendErr
	}

	return Result{ColdStart: coldStart, RespBytes: resp, InnerTime: elapsed}, nil
}

// reserve implements the selection-and-reservation step of the algorithm.
// Must be called with s.mu held; returns with the mutex still held by the
// caller (the caller releases it after reserve returns).
func (s *Scheduler) reserve(ctx context.Context) (g, i int, coldStart bool, err error) {
	if len(s.gpuLoad) > 0 {
		g = minIndex(s.gpuLoad)
		i = minIndex(s.workerLoad[g])
		if s.workerLoad[g][i] == 0 {
			s.workerLoad[g][i] = 1
			s.gpuLoad[g]++
			return g, i, false, nil
		}
	}

	// Every booted GPU is fully busy (or none has been booted yet). Boot a
	// fresh one if the global cap allows it.
	if len(s.gpuLoad) >= s.numGPUs {
		return 0, 0, false, ErrSaturated
	}

	next := len(s.gpuLoad)
	workers, bootErr := s.pool.bootBatch(ctx, next, s.maxReqPerGPU)
	if bootErr != nil {
		return 0, 0, false, bootErr
	}

	load := make([]int, len(workers))
	load[0] = 1
	s.workerLoad = append(s.workerLoad, load)
	s.gpuLoad = append(s.gpuLoad, 1)
	return next, 0, true, nil
}

// minIndex returns the index of the first occurrence of the minimum value
// in xs. Called with an empty slice it returns -1.
func minIndex(xs []int) int {
	if len(xs) == 0 {
		return -1
	}
	best := 0
	for idx := 1; idx < len(xs); idx++ {
		if xs[idx] < xs[best] {
			best = idx
		}
	}
	return best
}

func gpuLabel(g int) string {
	return strconv.Itoa(g)
}
