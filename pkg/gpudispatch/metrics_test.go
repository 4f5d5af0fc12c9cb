package gpudispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetrics_HandlerExportsRegisteredCollectors(t *testing.T) {
	m := NewMetrics()
	m.ColdStarts.Inc()
	m.GPULoad.WithLabelValues("0").Set(2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gpudispatch_cold_starts_total 1")
	require.Contains(t, rec.Body.String(), `gpudispatch_gpu_load{gpu="0"} 2`)
}

func TestMetrics_ServeRespectsContextCancellation(t *testing.T) {
	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, "127.0.0.1:0", "/metrics", nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
