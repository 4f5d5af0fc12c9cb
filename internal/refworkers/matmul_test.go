package refworkers

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/coldboot/gpudispatch/pkg/gpudispatch"
	"github.com/stretchr/testify/require"
)

func encodeMatmulRequest(n int, a, b []float32) []byte {
	buf := make([]byte, 4+2*n*n*4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	for i, v := range a {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	for i, v := range b {
		binary.LittleEndian.PutUint32(buf[4+n*n*4+i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeInnerTime(t *testing.T, resp []byte) float32 {
	t.Helper()
	require.Len(t, resp, 4)
	return math.Float32frombits(binary.LittleEndian.Uint32(resp))
}

func TestMatmul_ReturnsFourByteInnerTime(t *testing.T) {
	a := []float32{1, 0, 0, 1}
	b := []float32{5, 6, 7, 8}
	req := encodeMatmulRequest(2, a, b)

	resp, err := matmul(context.Background(), 0, req)
	require.NoError(t, err)
	require.GreaterOrEqual(t, decodeInnerTime(t, resp), float32(0))
}

func TestMatmul_HandlesLargerMatrices(t *testing.T) {
	large := make([]float32, 64*64)
	for i := range large {
		large[i] = float32(i%7) + 1
	}
	req := encodeMatmulRequest(64, large, large)

	resp, err := matmul(context.Background(), 0, req)
	require.NoError(t, err)
	require.GreaterOrEqual(t, decodeInnerTime(t, resp), float32(0))
}

func TestMatmul_RejectsShortRequest(t *testing.T) {
	_, err := matmul(context.Background(), 0, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestMatmul_RegisteredUnderName(t *testing.T) {
	h, ok := gpudispatch.Lookup("matmul")
	require.True(t, ok)
	require.NotNil(t, h)
}

func TestGPUStub_AlwaysFails(t *testing.T) {
	h, ok := gpudispatch.Lookup("gpu-stub")
	require.True(t, ok)

	_, err := h(context.Background(), 3, []byte("x"))
	require.Error(t, err)
}
