// Package cuda is a memory-safe layer over the handle-based CUDA Driver API:
// contexts, streams, modules, device memory and kernel launches, without the
// caller juggling raw opaque handles or checking every numeric status code.
//
// The package enforces two properties the driver itself does not:
//
//   - Single ownership with deterministic release: each wrapper owns exactly
//     one raw handle, releases it exactly once, and any operation after
//     release fails with ErrInvalidHandleUse instead of reaching the driver.
//     Handles leaked to the garbage collector are released by a cleanup
//     function that logs through klog, but explicit Destroy/Free in reverse
//     acquisition order (streams, events, modules and buffers before their
//     context) remains the supported path.
//
//   - Transfer certification: device buffers are typed, and the element type
//     must pass the devcopy certification (fixed size, no interior pointers,
//     no undefined padding) before any bytes move across the host/device
//     boundary.
//
// Threading: a context must be current on the calling thread for the
// operations created under it. This package models the driver's thread-local
// slot explicitly via Context.SetCurrent and Driver.Current, and does not
// arbitrate sharing: using one context's resources from several goroutines
// without external serialization (and runtime.LockOSThread pinning) is a
// caller error, exactly as it is with the raw driver.
//
// Ordering: operations enqueued on one stream execute in submission order.
// Across streams there is no ordering unless established through events
// (Event.Record plus Stream.WaitEvent). Asynchronous copies and launches
// return before completion; synchronize the stream or wait on an event before
// observing results through any other path.
package cuda

import "sync/atomic"

// Live-object counters, useful to detect leaks in tests and long-running
// processes.
var (
	contextsAlive atomic.Int64
	buffersAlive  atomic.Int64
	streamsAlive  atomic.Int64
	modulesAlive  atomic.Int64
	eventsAlive   atomic.Int64
)

// ContextsAlive returns the number of contexts created and not yet destroyed.
func ContextsAlive() int64 { return contextsAlive.Load() }

// BuffersAlive returns the number of device buffers allocated and not yet freed.
func BuffersAlive() int64 { return buffersAlive.Load() }

// StreamsAlive returns the number of streams created and not yet destroyed.
func StreamsAlive() int64 { return streamsAlive.Load() }

// ModulesAlive returns the number of modules loaded and not yet unloaded.
func ModulesAlive() int64 { return modulesAlive.Load() }

// EventsAlive returns the number of events created and not yet destroyed.
func EventsAlive() int64 { return eventsAlive.Load() }
