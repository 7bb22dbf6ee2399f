package cuda

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event is a marker on a stream's timeline: record it on a stream, then poll
// it, block on it, order another stream after it, or measure elapsed time
// between two of them.
type Event struct {
	drv *Driver
	ctx *Context
	raw atomic.Uintptr

	cleanup runtime.Cleanup
}

// NewEvent creates an event in the context. Requires the context to be
// current. Pass EventDisableTiming for events used purely for ordering; it
// makes Record and WaitEvent cheaper but ElapsedTime unavailable.
func (c *Context) NewEvent(flags uint32) (*Event, error) {
	if err := c.requireCurrent(); err != nil {
		return nil, err
	}
	raw, res := c.drv.api.EventCreate(flags)
	if err := status(res, "cuEventCreate"); err != nil {
		return nil, err
	}
	e := &Event{drv: c.drv, ctx: c}
	e.raw.Store(uintptr(raw))
	c.childAcquired()
	eventsAlive.Add(1)
	e.cleanup = runtime.AddCleanup(e, func(args rawDestroyArgs) {
		klog.Warningf("cuda.Event garbage collected without Destroy; releasing handle")
		if res := args.api.EventDestroy(RawEvent(args.raw)); res != Success {
			klog.Errorf("cuEventDestroy on leaked event failed: %v", res)
		}
		eventsAlive.Add(-1)
	}, rawDestroyArgs{api: c.drv.api, raw: uintptr(raw)})
	return e, nil
}

func (e *Event) handle() (RawEvent, error) {
	if e == nil {
		return 0, errors.WithStack(ErrInvalidHandleUse)
	}
	raw := e.raw.Load()
	if raw == 0 {
		return 0, errors.Wrap(ErrInvalidHandleUse, "Event already destroyed")
	}
	return RawEvent(raw), nil
}

// Record captures the stream's current position: the event completes when all
// work enqueued on the stream before this call has executed. Recording again
// overwrites the previous capture.
func (e *Event) Record(s *Stream) error {
	raw, err := e.handle()
	if err != nil {
		return err
	}
	sRaw, err := s.handle()
	if err != nil {
		return err
	}
	return status(e.drv.api.EventRecord(raw, sRaw), "cuEventRecord")
}

// Query reports whether the recorded point has been reached, without
// blocking. A pending event is a normal outcome (false, nil), not an error.
func (e *Event) Query() (done bool, err error) {
	raw, err := e.handle()
	if err != nil {
		return false, err
	}
	switch res := e.drv.api.EventQuery(raw); res {
	case Success:
		return true, nil
	case NotReady:
		return false, nil
	default:
		return false, status(res, "cuEventQuery")
	}
}

// Synchronize blocks the calling thread until the recorded point is reached.
func (e *Event) Synchronize() error {
	raw, err := e.handle()
	if err != nil {
		return err
	}
	return status(e.drv.api.EventSynchronize(raw), "cuEventSynchronize")
}

// ElapsedTime returns the time between the recorded points of two events
// (resolution ~0.5µs). Both events must have completed: otherwise the
// driver's NotReady code surfaces as an error. Unlike the Query path there is
// no duration to return, so here NotReady is a failure.
func ElapsedTime(start, end *Event) (time.Duration, error) {
	startRaw, err := start.handle()
	if err != nil {
		return 0, err
	}
	endRaw, err := end.handle()
	if err != nil {
		return 0, err
	}
	ms, res := start.drv.api.EventElapsedTime(startRaw, endRaw)
	if err := status(res, "cuEventElapsedTime"); err != nil {
		return 0, err
	}
	return time.Duration(float64(ms) * float64(time.Millisecond)), nil
}

// Destroy releases the event. Idempotent, and independent of the stream it
// was recorded on: if the recorded point is still pending the driver reclaims
// the handle once it completes.
func (e *Event) Destroy() error {
	if e == nil {
		return nil
	}
	raw := e.raw.Swap(0)
	if raw == 0 {
		return nil
	}
	e.cleanup.Stop()
	e.ctx.childReleased()
	eventsAlive.Add(-1)
	return status(e.drv.api.EventDestroy(RawEvent(raw)), "cuEventDestroy")
}
