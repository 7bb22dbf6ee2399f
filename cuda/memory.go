package cuda

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gocuda/devcopy"
)

// DeviceBuffer is an owned, typed, contiguous allocation in device memory:
// length fixed at allocation, element type certified for transfer, freed
// exactly once. Two owning buffers never alias the same device memory.
//
// The synchronous copy methods block until the transfer completes. The Async
// variants enqueue on a stream and return immediately: they complete after
// all earlier work on that stream and before any later work (same-stream FIFO
// order), and the results are observable only after synchronizing the stream
// or waiting on an event recorded after them. For host-side slices handed to
// an Async copy the caller must keep the slice unchanged (and alive) until
// that synchronization point.
type DeviceBuffer[T any] struct {
	drv *Driver
	ctx *Context
	ptr Devptr
	n   int

	freed   atomic.Bool
	cleanup runtime.Cleanup
}

// AllocBuffer allocates a device buffer of n elements of T in the context.
// Requires the context to be current, and T to be transfer-certified
// (devcopy): an uncertified T fails with ErrNotCertified before any driver
// call.
//
// n == 0 is valid and yields a buffer with no addressable elements: copies
// against it are no-ops. Device out-of-memory surfaces as OutOfMemory,
// untouched; retry policy belongs to the caller.
func AllocBuffer[T any](ctx *Context, n int) (*DeviceBuffer[T], error) {
	if err := devcopy.Certify[T](); err != nil {
		return nil, errors.Wrapf(ErrNotCertified, "DeviceBuffer element type: %v", err)
	}
	if n < 0 {
		return nil, errors.Wrapf(InvalidValue, "AllocBuffer with negative length %d", n)
	}
	if err := ctx.requireCurrent(); err != nil {
		return nil, err
	}
	b := &DeviceBuffer[T]{drv: ctx.drv, ctx: ctx, n: n}
	if n == 0 {
		return b, nil
	}
	bytes := uint64(n) * uint64(devcopy.SizeOf[T]())
	ptr, res := ctx.drv.api.MemAlloc(bytes)
	if err := status(res, "cuMemAlloc"); err != nil {
		return nil, errors.WithMessagef(err, "allocating %d bytes on device", bytes)
	}
	b.ptr = ptr
	ctx.childAcquired()
	buffersAlive.Add(1)
	b.cleanup = runtime.AddCleanup(b, func(args rawDestroyArgs) {
		klog.Warningf("cuda.DeviceBuffer garbage collected without Free; releasing device memory")
		if res := args.api.MemFree(Devptr(args.raw)); res != Success {
			klog.Errorf("cuMemFree on leaked buffer failed: %v", res)
		}
		buffersAlive.Add(-1)
	}, rawDestroyArgs{api: ctx.drv.api, raw: uintptr(ptr)})
	return b, nil
}

// AllocBufferFromSlice allocates a buffer of len(src) elements and fills it
// from src. If the copy fails the allocation is released before the error
// returns.
func AllocBufferFromSlice[T any](ctx *Context, src []T) (*DeviceBuffer[T], error) {
	b, err := AllocBuffer[T](ctx, len(src))
	if err != nil {
		return nil, err
	}
	if err = b.CopyFromHost(src); err != nil {
		if freeErr := b.Free(); freeErr != nil {
			klog.Errorf("failed to free buffer while unwinding a failed upload: %v", freeErr)
		}
		return nil, err
	}
	return b, nil
}

// Len returns the element count, fixed at allocation.
func (b *DeviceBuffer[T]) Len() int { return b.n }

// SizeBytes returns the allocation size in bytes: exactly count x size of T,
// no hidden padding.
func (b *DeviceBuffer[T]) SizeBytes() uint64 {
	return uint64(b.n) * uint64(devcopy.SizeOf[T]())
}

// DevicePointer returns the raw device address (zero for a zero-length
// buffer). The buffer keeps owning the memory.
func (b *DeviceBuffer[T]) DevicePointer() Devptr { return b.ptr }

// Context returns the owning context.
func (b *DeviceBuffer[T]) Context() *Context { return b.ctx }

func (b *DeviceBuffer[T]) valid() error {
	if b == nil {
		return errors.WithStack(ErrInvalidHandleUse)
	}
	if b.freed.Load() {
		return errors.Wrap(ErrInvalidHandleUse, "DeviceBuffer already freed")
	}
	if !b.ctx.alive() {
		return errors.Wrap(ErrInvalidHandleUse, "DeviceBuffer's context was destroyed")
	}
	return nil
}

func (b *DeviceBuffer[T]) checkLen(got int) error {
	if got != b.n {
		return errors.Wrapf(ErrLengthMismatch, "buffer holds %d element(s), slice holds %d", b.n, got)
	}
	return nil
}

// CopyFromHost copies src into the buffer, blocking until the transfer
// completes. len(src) must equal Len.
func (b *DeviceBuffer[T]) CopyFromHost(src []T) error {
	if err := b.valid(); err != nil {
		return err
	}
	if err := b.checkLen(len(src)); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	return status(b.drv.api.MemcpyHtoD(b.ptr, devcopy.SliceBytes(src)), "cuMemcpyHtoD")
}

// CopyToHost copies the buffer into dst, blocking until the transfer
// completes. len(dst) must equal Len.
func (b *DeviceBuffer[T]) CopyToHost(dst []T) error {
	if err := b.valid(); err != nil {
		return err
	}
	if err := b.checkLen(len(dst)); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	return status(b.drv.api.MemcpyDtoH(devcopy.SliceBytes(dst), b.ptr), "cuMemcpyDtoH")
}

// CopyFromDevice copies src's contents into b, device to device, blocking.
// Element types match by construction; lengths must too.
func (b *DeviceBuffer[T]) CopyFromDevice(src *DeviceBuffer[T]) error {
	if err := b.valid(); err != nil {
		return err
	}
	if err := src.valid(); err != nil {
		return err
	}
	if err := b.checkLen(src.n); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	return status(b.drv.api.MemcpyDtoD(b.ptr, src.ptr, b.SizeBytes()), "cuMemcpyDtoD")
}

// CopyFromHostAsync enqueues the upload on the stream and returns
// immediately. src must stay unchanged until the stream is synchronized past
// this copy.
func (b *DeviceBuffer[T]) CopyFromHostAsync(src []T, s *Stream) error {
	if err := b.valid(); err != nil {
		return err
	}
	raw, err := s.handle()
	if err != nil {
		return err
	}
	if err := b.checkLen(len(src)); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	return status(b.drv.api.MemcpyHtoDAsync(b.ptr, devcopy.SliceBytes(src), raw), "cuMemcpyHtoDAsync")
}

// CopyToHostAsync enqueues the download on the stream and returns
// immediately. dst is written at completion time; read it only after
// synchronizing the stream past this copy.
func (b *DeviceBuffer[T]) CopyToHostAsync(dst []T, s *Stream) error {
	if err := b.valid(); err != nil {
		return err
	}
	raw, err := s.handle()
	if err != nil {
		return err
	}
	if err := b.checkLen(len(dst)); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	return status(b.drv.api.MemcpyDtoHAsync(devcopy.SliceBytes(dst), b.ptr, raw), "cuMemcpyDtoHAsync")
}

// CopyFromDeviceAsync enqueues a device-to-device copy on the stream.
func (b *DeviceBuffer[T]) CopyFromDeviceAsync(src *DeviceBuffer[T], s *Stream) error {
	if err := b.valid(); err != nil {
		return err
	}
	if err := src.valid(); err != nil {
		return err
	}
	raw, err := s.handle()
	if err != nil {
		return err
	}
	if err := b.checkLen(src.n); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	return status(b.drv.api.MemcpyDtoDAsync(b.ptr, src.ptr, b.SizeBytes(), raw), "cuMemcpyDtoDAsync")
}

// Memset fills every byte of the buffer with value, blocking.
func (b *DeviceBuffer[T]) Memset(value byte) error {
	if err := b.valid(); err != nil {
		return err
	}
	if b.n == 0 {
		return nil
	}
	return status(b.drv.api.MemsetD8(b.ptr, value, b.SizeBytes()), "cuMemsetD8")
}

// ToHostSlice allocates a host slice of Len elements and downloads the
// buffer into it, blocking.
func (b *DeviceBuffer[T]) ToHostSlice() ([]T, error) {
	if err := b.valid(); err != nil {
		return nil, err
	}
	dst := make([]T, b.n)
	if err := b.CopyToHost(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Free releases the device memory. Idempotent: freeing an already-freed
// buffer is a no-op, and any later operation fails with ErrInvalidHandleUse
// without reaching the driver.
func (b *DeviceBuffer[T]) Free() error {
	if b == nil {
		return nil
	}
	if b.freed.Swap(true) {
		return nil
	}
	if b.ptr == 0 {
		return nil // zero-length buffer, nothing was allocated
	}
	b.cleanup.Stop()
	b.ctx.childReleased()
	buffersAlive.Add(-1)
	ptr := b.ptr
	b.ptr = 0
	return status(b.drv.api.MemFree(ptr), "cuMemFree")
}
