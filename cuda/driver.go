package cuda

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Driver is the entry object every other resource hangs off: it holds the raw
// call surface (API) and the current-context slot. Obtain one with Load (the
// system libcuda) or NewDriver (any other API implementation).
type Driver struct {
	api API

	initOnce sync.Once
	initErr  error

	// current tracks the wrapper for the context most recently bound with
	// SetCurrent. The driver's own slot is per OS thread; this mirror is
	// process-wide and exists so Current can hand back the wrapper — callers
	// sharing a Driver across threads must serialize externally (see the
	// package documentation).
	current atomic.Pointer[Context]
}

var (
	systemOnce   sync.Once
	systemDriver *Driver
	systemErr    error
)

// Load returns the Driver bound to the system CUDA library, loading it on
// first use. The same Driver is returned on every call.
func Load() (*Driver, error) {
	systemOnce.Do(func() {
		api, err := loadSystemAPI()
		if err != nil {
			systemErr = err
			return
		}
		systemDriver = NewDriver(api)
	})
	return systemDriver, systemErr
}

// NewDriver wraps an arbitrary implementation of the raw call surface.
// Intended for alternative bindings and for tests.
func NewDriver(api API) *Driver {
	return &Driver{api: api}
}

// Init initializes the driver (cuInit). Idempotent; every other entry point
// requires it. It is called implicitly by QuickInit.
func (d *Driver) Init() error {
	d.initOnce.Do(func() {
		d.initErr = status(d.api.Init(0), "cuInit")
	})
	return d.initErr
}

// Version returns the driver version (major*1000 + minor*10).
func (d *Driver) Version() (int, error) {
	v, res := d.api.DriverVersion()
	return v, status(res, "cuDriverGetVersion")
}

// DeviceCount returns the number of compute-capable devices.
func (d *Driver) DeviceCount() (int, error) {
	n, res := d.api.DeviceGetCount()
	return n, status(res, "cuDeviceGetCount")
}

// Device returns a handle to the device with the given ordinal in [0, DeviceCount).
func (d *Driver) Device(ordinal int) (*Device, error) {
	raw, res := d.api.DeviceGet(ordinal)
	if err := status(res, "cuDeviceGet"); err != nil {
		return nil, errors.WithMessagef(err, "device ordinal %d", ordinal)
	}
	return &Device{drv: d, ordinal: ordinal, raw: raw}, nil
}

// Current returns the context bound by the last SetCurrent, or
// ErrNoCurrentContext if none is bound (or the bound one was destroyed).
func (d *Driver) Current() (*Context, error) {
	ctx := d.current.Load()
	if ctx == nil || !ctx.alive() {
		return nil, errors.WithStack(ErrNoCurrentContext)
	}
	return ctx, nil
}

// QuickInit is the one-call setup for the common single-device case:
// initializes the driver, opens the device with the given ordinal, creates a
// context and makes it current. On any partial failure everything already
// acquired is released before the error returns.
func (d *Driver) QuickInit(ordinal int) (*Context, error) {
	if err := d.Init(); err != nil {
		return nil, err
	}
	dev, err := d.Device(ordinal)
	if err != nil {
		return nil, err
	}
	ctx, err := dev.NewContext(0)
	if err != nil {
		return nil, err
	}
	if err = ctx.SetCurrent(); err != nil {
		// Unwind: don't leak the context we just created.
		if destroyErr := ctx.Destroy(); destroyErr != nil {
			return nil, errors.WithMessagef(err, "additionally failed to destroy the new context while unwinding: %v", destroyErr)
		}
		return nil, err
	}
	return ctx, nil
}

// QuickInit is Driver.QuickInit on the system driver.
func QuickInit(ordinal int) (*Context, error) {
	d, err := Load()
	if err != nil {
		return nil, err
	}
	return d.QuickInit(ordinal)
}
