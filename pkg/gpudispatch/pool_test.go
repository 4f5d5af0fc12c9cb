package gpudispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, numGPUs int) *WorkerPool {
	t.Helper()
	cfg := helperWorkerConfig(t)
	socket := NewSocketManager(SocketConfig{Dir: t.TempDir(), Prefix: "test", Permissions: 0600})
	return NewWorkerPool(numGPUs, cfg, socket, NewLogger(LoggingConfig{Level: "error", Format: "text"}))
}

func TestWorkerPool_BootBatchAndSend(t *testing.T) {
	pool := newTestPool(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(pool.shutdown)

	workers, err := pool.bootBatch(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	require.Equal(t, 0, workers[0].Index())
	require.Equal(t, 1, workers[1].Index())
	require.Equal(t, 2, pool.workerCount(0))
	require.Equal(t, 0, pool.workerCount(1))

	resp, err := pool.send(0, 0, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), resp)

	resp, err = pool.send(0, 1, []byte("pong"))
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), resp)
}

func TestWorkerPool_BootBatchSpawnsExactlyM(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(pool.shutdown)

	workers, err := pool.bootBatch(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, workers, 3)
	require.Equal(t, 3, pool.totalWorkers())
}

func TestWorkerPool_BootBatchRejectsAlreadyBootedGPU(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(pool.shutdown)

	_, err := pool.bootBatch(ctx, 0, 2)
	require.NoError(t, err)

	_, err = pool.bootBatch(ctx, 0, 2)
	require.Error(t, err)
	require.Equal(t, 2, pool.totalWorkers())
}

func TestWorkerPool_ShutdownIsIdempotent(t *testing.T) {
	pool := newTestPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := pool.bootBatch(ctx, 0, 2)
	require.NoError(t, err)

	pool.shutdown()
	pool.shutdown()
}

func TestWorkerPool_SendToMissingSlotFails(t *testing.T) {
	pool := newTestPool(t, 1)
	t.Cleanup(pool.shutdown)

	_, err := pool.send(0, 0, []byte("x"))
	require.Error(t, err)
}
