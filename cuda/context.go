package cuda

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Context is a device's execution environment: every stream, module, buffer
// and event is created under one. It owns its raw handle and releases it
// exactly once.
//
// Most operations on child resources require their context to be current on
// the calling thread (SetCurrent). Destroy children before the context; the
// driver invalidates them implicitly otherwise, which this layer logs but
// does not prevent.
type Context struct {
	drv *Driver
	dev *Device
	raw atomic.Uintptr // zero once released

	// Children created and not yet released, for teardown-order diagnostics.
	children atomic.Int64

	cleanup runtime.Cleanup
}

type rawDestroyArgs struct {
	api API
	raw uintptr
}

// NewContext creates a context on the device. flags follow CUctx_flags; 0 is
// the scheduling default.
func (dev *Device) NewContext(flags uint32) (*Context, error) {
	raw, res := dev.drv.api.CtxCreate(flags, dev.raw)
	if err := status(res, "cuCtxCreate"); err != nil {
		return nil, errors.WithMessagef(err, "creating context on device %d", dev.ordinal)
	}
	c := &Context{drv: dev.drv, dev: dev}
	c.raw.Store(uintptr(raw))
	contextsAlive.Add(1)
	c.cleanup = runtime.AddCleanup(c, func(args rawDestroyArgs) {
		klog.Warningf("cuda.Context garbage collected without Destroy; releasing handle")
		if res := args.api.CtxDestroy(RawContext(args.raw)); res != Success {
			klog.Errorf("cuCtxDestroy on leaked context failed: %v", res)
		}
		contextsAlive.Add(-1)
	}, rawDestroyArgs{api: dev.drv.api, raw: uintptr(raw)})
	return c, nil
}

func (c *Context) alive() bool { return c != nil && c.raw.Load() != 0 }

// handle returns the raw handle, or an error if the context was released.
func (c *Context) handle() (RawContext, error) {
	if c == nil {
		return 0, errors.WithStack(ErrInvalidHandleUse)
	}
	raw := c.raw.Load()
	if raw == 0 {
		return 0, errors.Wrap(ErrInvalidHandleUse, "Context already destroyed")
	}
	return RawContext(raw), nil
}

// Device returns the device this context was created on.
func (c *Context) Device() *Device { return c.dev }

// SetCurrent binds the context to the calling thread's current slot.
// Resources created under a context can only be operated on while it is
// current.
func (c *Context) SetCurrent() error {
	raw, err := c.handle()
	if err != nil {
		return err
	}
	if err := status(c.drv.api.CtxSetCurrent(raw), "cuCtxSetCurrent"); err != nil {
		return err
	}
	c.drv.current.Store(c)
	return nil
}

// requireCurrent gates the operations that rely on the driver's implicit
// current-context slot (allocation, module loading, stream/event creation).
func (c *Context) requireCurrent() error {
	if _, err := c.handle(); err != nil {
		return err
	}
	if c.drv.current.Load() != c {
		return errors.Wrap(ErrNoCurrentContext, "call Context.SetCurrent first")
	}
	return nil
}

// Synchronize blocks until all work in the context (every stream) completes.
// Requires the context to be current.
func (c *Context) Synchronize() error {
	if err := c.requireCurrent(); err != nil {
		return err
	}
	return status(c.drv.api.CtxSynchronize(), "cuCtxSynchronize")
}

// MemInfo returns the free and total device memory, in bytes, for the
// current context's device.
func (c *Context) MemInfo() (free, total uint64, err error) {
	if err = c.requireCurrent(); err != nil {
		return
	}
	free, total, res := c.drv.api.MemGetInfo()
	return free, total, status(res, "cuMemGetInfo")
}

// Destroy releases the context. Idempotent: destroying an already-destroyed
// context is a no-op. Any still-live children become invalid driver-side;
// that situation is logged as a teardown-order bug.
func (c *Context) Destroy() error {
	if c == nil {
		return nil
	}
	raw := c.raw.Swap(0)
	if raw == 0 {
		return nil
	}
	c.cleanup.Stop()
	if n := c.children.Load(); n > 0 {
		klog.Warningf("cuda.Context destroyed with %d live child resource(s); destroy streams, events, modules and buffers before their context", n)
	}
	if c.drv.current.Load() == c {
		c.drv.current.CompareAndSwap(c, nil)
		if res := c.drv.api.CtxSetCurrent(0); res != Success {
			klog.Warningf("cuCtxSetCurrent(nil) while destroying the current context: %v", res)
		}
	}
	contextsAlive.Add(-1)
	return status(c.drv.api.CtxDestroy(RawContext(raw)), "cuCtxDestroy")
}

// childAcquired/childReleased keep the teardown-order counter.
func (c *Context) childAcquired() { c.children.Add(1) }
func (c *Context) childReleased() { c.children.Add(-1) }
