package refworkers

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/coldboot/gpudispatch/pkg/gpudispatch"
)

func init() {
	gpudispatch.Register("matmul", matmul)
}

// matmul is a reference worker function: it treats the request as
// [uint32 n][n*n float32 values for A][n*n float32 values for B], multiplies
// them on the CPU, and answers with the fixed 4-byte little-endian float32
// inner_time_seconds the wire protocol expects, letting the dispatcher be
// exercised end-to-end without a caller supplying their own function
// module. The product itself isn't returned; a real deployment would bind
// gpu to an actual device and the caller would retrieve results out of band.
func matmul(_ context.Context, gpu int, req []byte) ([]byte, error) {
	if len(req) < 4 {
		return nil, fmt.Errorf("matmul: request too short for header")
	}
	n := int(binary.LittleEndian.Uint32(req))
	want := 4 + 2*n*n*4
	if n <= 0 || len(req) < want {
		return nil, fmt.Errorf("matmul: request size %d too small for n=%d (gpu %d)", len(req), n, gpu)
	}

	start := time.Now()

	a := decodeMatrix(req[4:4+n*n*4], n)
	b := decodeMatrix(req[4+n*n*4:4+2*n*n*4], n)
	c := make([]float32, n*n)

	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			aik := a[i*n+k]
			if aik == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				c[i*n+j] += aik * b[k*n+j]
			}
		}
	}

	elapsed := time.Since(start)

	resp := make([]byte, 4)
	binary.LittleEndian.PutUint32(resp, math.Float32bits(float32(elapsed.Seconds())))
	return resp, nil
}

func decodeMatrix(buf []byte, n int) []float32 {
	m := make([]float32, n*n)
	for i := range m {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return m
}
