package cuda

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/gomlx/gocuda/devcopy"
)

// Dim3 is a three-dimensional extent for grids and blocks.
type Dim3 struct {
	X, Y, Z uint32
}

// Dim returns a Dim3 with the given X and the other axes set to 1, the
// common one-dimensional case.
func Dim(x uint32) Dim3 { return Dim3{X: x, Y: 1, Z: 1} }

// Volume returns X*Y*Z.
func (d Dim3) Volume() uint64 { return uint64(d.X) * uint64(d.Y) * uint64(d.Z) }

// LaunchConfig is the geometry of one kernel invocation: Grid counts blocks,
// Block counts threads per block, SharedMemBytes is the dynamic shared memory
// per block.
type LaunchConfig struct {
	Grid           Dim3
	Block          Dim3
	SharedMemBytes uint32
}

// Config1D builds a launch configuration covering n elements with the given
// block size, one thread per element.
func Config1D(n int, blockSize uint32) LaunchConfig {
	grid := (uint32(n) + blockSize - 1) / blockSize
	if grid == 0 {
		grid = 1
	}
	return LaunchConfig{Grid: Dim(grid), Block: Dim(blockSize)}
}

// validate rejects a configuration outside the device limits, before any
// driver call. Failing fast locally beats the driver's late, less specific
// launch error.
func (cfg LaunchConfig) validate(limits Limits) error {
	check := func(what string, d, max Dim3) error {
		if d.X == 0 || d.Y == 0 || d.Z == 0 {
			return errors.Wrapf(ErrBadLaunchConfig, "%s dimensions must be positive in every axis, got (%d,%d,%d)", what, d.X, d.Y, d.Z)
		}
		if d.X > max.X || d.Y > max.Y || d.Z > max.Z {
			return errors.Wrapf(ErrBadLaunchConfig, "%s dimensions (%d,%d,%d) exceed the device limits (%d,%d,%d)", what, d.X, d.Y, d.Z, max.X, max.Y, max.Z)
		}
		return nil
	}
	if err := check("grid", cfg.Grid, limits.MaxGridDim); err != nil {
		return err
	}
	if err := check("block", cfg.Block, limits.MaxBlockDim); err != nil {
		return err
	}
	if v := cfg.Block.Volume(); v > uint64(limits.MaxThreadsPerBlock) {
		return errors.Wrapf(ErrBadLaunchConfig, "block volume %d exceeds the device's %d threads per block", v, limits.MaxThreadsPerBlock)
	}
	if int(cfg.SharedMemBytes) > limits.MaxSharedMemPerBlock {
		return errors.Wrapf(ErrBadLaunchConfig, "%d bytes of shared memory exceed the device's %d per block", cfg.SharedMemBytes, limits.MaxSharedMemPerBlock)
	}
	return nil
}

// devicePointerer lets any DeviceBuffer[T] be recognized as a kernel
// argument without knowing T.
type devicePointerer interface {
	DevicePointer() Devptr
}

// marshalArgs turns launch arguments into per-parameter byte images:
// buffers and raw Devptrs become a device address word, certified values
// their exact bytes. Anything else is rejected.
func marshalArgs(args []any) ([][]byte, error) {
	params := make([][]byte, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case devicePointerer:
			p := make([]byte, 8)
			binary.LittleEndian.PutUint64(p, uint64(a.DevicePointer()))
			params[i] = p
		case Devptr:
			p := make([]byte, 8)
			binary.LittleEndian.PutUint64(p, uint64(a))
			params[i] = p
		default:
			raw, err := devcopy.ValueBytes(arg)
			if err != nil {
				return nil, errors.Wrapf(ErrNotCertified, "kernel argument %d (%T): %v", i, arg, err)
			}
			params[i] = raw
		}
	}
	return params, nil
}

// Launch validates the configuration against the device limits and enqueues
// the kernel on the stream. Arguments must be device buffers, raw device
// pointers, or transfer-certified values, in the kernel's declaration order.
//
// The launch returns as soon as the work is enqueued. This layer does not
// track argument lifetimes: every pointer argument must refer to memory that
// outlives the kernel's execution, so keep buffers alive until the stream is
// synchronized.
func (f Function) Launch(cfg LaunchConfig, s *Stream, args ...any) error {
	raw, err := f.handle()
	if err != nil {
		return err
	}
	sRaw, err := s.handle()
	if err != nil {
		return err
	}
	limits, err := f.mod.ctx.dev.Limits()
	if err != nil {
		return err
	}
	if err := cfg.validate(limits); err != nil {
		return errors.WithMessagef(err, "launching %q", f.name)
	}
	params, err := marshalArgs(args)
	if err != nil {
		return errors.WithMessagef(err, "launching %q", f.name)
	}
	res := f.mod.drv.api.LaunchKernel(raw, cfg.Grid, cfg.Block, cfg.SharedMemBytes, sRaw, params)
	return status(res, "cuLaunchKernel")
}
