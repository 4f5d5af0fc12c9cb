package gpudispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, numGPUs, maxReqPerGPU int) *Scheduler {
	t.Helper()
	pool := newTestPool(t, numGPUs)
	t.Cleanup(pool.shutdown)
	return NewScheduler(pool, numGPUs, maxReqPerGPU, NewMetrics())
}

func TestScheduler_FirstDispatchIsColdStart(t *testing.T) {
	s := newTestScheduler(t, 2, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := s.Dispatch(ctx, []byte("req"))
	require.NoError(t, err)
	require.True(t, result.ColdStart)
	require.Equal(t, []byte("req"), result.RespBytes)
}

func TestScheduler_ReusesIdleWorkerWithoutColdStart(t *testing.T) {
	s := newTestScheduler(t, 1, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.Dispatch(ctx, []byte("first"))
	require.NoError(t, err)

	result, err := s.Dispatch(ctx, []byte("second"))
	require.NoError(t, err)
	require.False(t, result.ColdStart)
}

func TestScheduler_BootsOneGPUAtFullWidthOnColdStart(t *testing.T) {
	s := newTestScheduler(t, 2, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := s.Dispatch(ctx, []byte("x"))
	require.NoError(t, err)
	require.True(t, result.ColdStart)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 1, len(s.gpuLoad), "only gpu0 should be booted")
	require.Equal(t, 3, len(s.workerLoad[0]), "bootBatch must spawn all maxReqPerGPU workers at once")
}

func TestScheduler_SaturationReturnsErrAtGlobalCap(t *testing.T) {
	s := newTestScheduler(t, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.Dispatch(ctx, []byte("warm"))
	require.NoError(t, err)
	s.mu.Lock()
	s.gpuLoad[0] = 1
	s.workerLoad[0][0] = 1
	s.mu.Unlock()

	_, err = s.Dispatch(ctx, []byte("x"))
	require.ErrorIs(t, err, ErrSaturated)
}

func TestScheduler_UsesFreeSlotBeforeBootingNextGPU(t *testing.T) {
	s := newTestScheduler(t, 2, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	workers, err := s.pool.bootBatch(ctx, 0, 4)
	require.NoError(t, err)
	require.Len(t, workers, 4)

	s.mu.Lock()
	s.gpuLoad = append(s.gpuLoad, 3)
	s.workerLoad = append(s.workerLoad, []int{1, 1, 1, 0})
	s.mu.Unlock()

	result, err := s.Dispatch(ctx, []byte("x"))
	require.NoError(t, err)
	require.False(t, result.ColdStart, "gpu0 still has a free worker slot; gpu1 must not be booted")

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 1, len(s.gpuLoad), "gpu1 should stay unbooted while gpu0 has spare capacity")
}

// TestScheduler_FillsGPUBeforeExpanding pins down the exact selection order
// the algorithm must follow: a GPU's workers are all used before a second
// GPU is ever booted. With numGPUs=2, maxReqPerGPU=2, three requests in a
// row against an otherwise idle scheduler must cold-start gpu0, reuse
// gpu0's second worker, then cold-start gpu1 only once gpu0 is full.
func TestScheduler_FillsGPUBeforeExpanding(t *testing.T) {
	s := newTestScheduler(t, 2, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	g1, i1, cold1, err1 := s.reserve(ctx)
	s.mu.Unlock()
	require.NoError(t, err1)
	require.True(t, cold1)
	require.Equal(t, 0, g1)
	require.Equal(t, 0, i1)

	s.mu.Lock()
	g2, i2, cold2, err2 := s.reserve(ctx)
	s.mu.Unlock()
	require.NoError(t, err2)
	require.False(t, cold2, "second request must reuse gpu0's other worker, not boot gpu1")
	require.Equal(t, 0, g2)
	require.Equal(t, 1, i2)

	s.mu.Lock()
	g3, i3, cold3, err3 := s.reserve(ctx)
	s.mu.Unlock()
	require.NoError(t, err3)
	require.True(t, cold3, "gpu0 is now fully busy; the third request must boot gpu1")
	require.Equal(t, 1, g3)
	require.Equal(t, 0, i3)
}

// TestScheduler_ConcurrentDispatchesFillGPUBeforeExpanding is the concurrent
// counterpart: three requests fired at once against numGPUs=2,
// maxReqPerGPU=2 must never boot more than the two GPUs needed to hold
// them, and must fill gpu0 to capacity before gpu1 is ever touched.
func TestScheduler_ConcurrentDispatchesFillGPUBeforeExpanding(t *testing.T) {
	s := newTestScheduler(t, 2, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	hold := make(chan struct{})
	results := make([]Result, 3)
	errs := make([]error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-hold
			results[i], errs[i] = s.Dispatch(ctx, []byte("x"))
		}(i)
	}
	close(hold)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	coldCount := 0
	for _, r := range results {
		if r.ColdStart {
			coldCount++
		}
	}
	require.Equal(t, 2, coldCount, "filling gpu0's two slots then expanding to gpu1 requires exactly two boots")
	require.Equal(t, 2, s.pool.workerCount(0))
	require.Equal(t, 2, s.pool.workerCount(1))
}

func TestScheduler_ReleasesBusyBitAfterDispatch(t *testing.T) {
	s := newTestScheduler(t, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.Dispatch(ctx, []byte("x"))
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 0, s.gpuLoad[0])
	require.Equal(t, 0, s.workerLoad[0][0])
}

func TestMinIndex(t *testing.T) {
	require.Equal(t, -1, minIndex(nil))
	require.Equal(t, 0, minIndex([]int{0, 1, 2}))
	require.Equal(t, 1, minIndex([]int{3, 0, 2}))
	require.Equal(t, 0, minIndex([]int{1, 1, 1}))
}
