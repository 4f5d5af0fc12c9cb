package refworkers

import (
	"context"
	"fmt"

	"github.com/coldboot/gpudispatch/pkg/gpudispatch"
)

func init() {
	gpudispatch.Register("gpu-stub", gpuStub)
}

// gpuStub is registered so a dispatcher can be started against a function
// name that exercises the handler-error path without a real GPU backend
// wired in. Every call fails; the worker stays alive and answers the next
// request normally, per the handler-error contract.
func gpuStub(_ context.Context, gpu int, _ []byte) ([]byte, error) {
	return nil, fmt.Errorf("gpu-stub: no backend wired for gpu %d", gpu)
}
