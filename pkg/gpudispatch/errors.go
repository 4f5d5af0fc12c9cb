package gpudispatch

import "errors"

// ErrSaturated is returned by Scheduler.Dispatch when every worker
// slot is busy and the global cap has already been reached. It is
// reported to the wire client as cold_start=false, inner_time=0.0
// rather than closing the connection; the caller still performs one
// read and one write to preserve the protocol shape.
var ErrSaturated = errors.New("gpudispatch: all workers busy and worker cap reached")

// ErrPoolShutdown reports that the pool is shutting down. Nothing in this
// package returns it: Dispatch does not check whether the pool has begun
// shutting down.
var ErrPoolShutdown = errors.New("gpudispatch: pool is shutting down")
