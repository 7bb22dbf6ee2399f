package cuda

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stream is an ordered queue of device operations. Work enqueued on one
// stream executes in submission order; across streams there is no ordering
// unless established through events.
type Stream struct {
	drv *Driver
	ctx *Context
	raw atomic.Uintptr

	cleanup runtime.Cleanup
}

// NewStream creates a stream in the context. Requires the context to be
// current. Use StreamNonBlocking to opt out of the implicit synchronization
// with the legacy default stream.
func (c *Context) NewStream(flags uint32) (*Stream, error) {
	if err := c.requireCurrent(); err != nil {
		return nil, err
	}
	raw, res := c.drv.api.StreamCreate(flags)
	if err := status(res, "cuStreamCreate"); err != nil {
		return nil, err
	}
	s := &Stream{drv: c.drv, ctx: c}
	s.raw.Store(uintptr(raw))
	c.childAcquired()
	streamsAlive.Add(1)
	s.cleanup = runtime.AddCleanup(s, func(args rawDestroyArgs) {
		klog.Warningf("cuda.Stream garbage collected without Destroy; releasing handle")
		if res := args.api.StreamDestroy(RawStream(args.raw)); res != Success {
			klog.Errorf("cuStreamDestroy on leaked stream failed: %v", res)
		}
		streamsAlive.Add(-1)
	}, rawDestroyArgs{api: c.drv.api, raw: uintptr(raw)})
	return s, nil
}

// Context returns the stream's owning context.
func (s *Stream) Context() *Context { return s.ctx }

func (s *Stream) handle() (RawStream, error) {
	if s == nil {
		return 0, errors.WithStack(ErrInvalidHandleUse)
	}
	raw := s.raw.Load()
	if raw == 0 {
		return 0, errors.Wrap(ErrInvalidHandleUse, "Stream already destroyed")
	}
	return RawStream(raw), nil
}

// Synchronize blocks the calling thread until every operation previously
// enqueued on the stream has completed. An execution failure from earlier
// work (e.g. an in-kernel fault) surfaces here, categorized; other streams
// are unaffected, but the context's error state is the caller's to inspect,
// mirroring the driver.
func (s *Stream) Synchronize() error {
	raw, err := s.handle()
	if err != nil {
		return err
	}
	return status(s.drv.api.StreamSynchronize(raw), "cuStreamSynchronize")
}

// Query reports whether all enqueued work has completed, without blocking.
// A pending stream is a normal outcome (false, nil), not an error.
func (s *Stream) Query() (done bool, err error) {
	raw, err := s.handle()
	if err != nil {
		return false, err
	}
	switch res := s.drv.api.StreamQuery(raw); res {
	case Success:
		return true, nil
	case NotReady:
		return false, nil
	default:
		return false, status(res, "cuStreamQuery")
	}
}

// WaitEvent orders all of the stream's subsequent work after the event's
// recorded point, without blocking the host.
func (s *Stream) WaitEvent(ev *Event) error {
	raw, err := s.handle()
	if err != nil {
		return err
	}
	evRaw, err := ev.handle()
	if err != nil {
		return err
	}
	return status(s.drv.api.StreamWaitEvent(raw, evRaw, 0), "cuStreamWaitEvent")
}

// Destroy releases the stream. Idempotent. Work already enqueued is not
// cancelled; the driver completes it before the handle is reclaimed.
func (s *Stream) Destroy() error {
	if s == nil {
		return nil
	}
	raw := s.raw.Swap(0)
	if raw == 0 {
		return nil
	}
	s.cleanup.Stop()
	s.ctx.childReleased()
	streamsAlive.Add(-1)
	return status(s.drv.api.StreamDestroy(RawStream(raw)), "cuStreamDestroy")
}
