package cuda

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Module is a loaded device-code image: cubin, PTX or fatbin, all treated as
// opaque bytes, with the driver's own accept/reject decision surfaced as the
// load error. Functions looked up in a module are valid only while the module
// is loaded.
type Module struct {
	drv *Driver
	ctx *Context
	raw atomic.Uintptr

	cleanup runtime.Cleanup
}

// LoadErrorKind distinguishes why a module image was rejected.
type LoadErrorKind int

const (
	// LoadOK: the error carries no load-related driver code.
	LoadOK LoadErrorKind = iota
	// LoadMalformedImage: the bytes are not a valid image (corrupt cubin,
	// unparsable PTX).
	LoadMalformedImage
	// LoadUnsupportedTarget: a valid image, but compiled for an architecture
	// or PTX version this device/driver cannot run.
	LoadUnsupportedTarget
	// LoadResolveFailure: the driver failed linking or resolving the image's
	// dependencies.
	LoadResolveFailure
)

func (k LoadErrorKind) String() string {
	switch k {
	case LoadOK:
		return "LoadOK"
	case LoadMalformedImage:
		return "LoadMalformedImage"
	case LoadUnsupportedTarget:
		return "LoadUnsupportedTarget"
	case LoadResolveFailure:
		return "LoadResolveFailure"
	default:
		return "LoadErrorKind(?)"
	}
}

// LoadKindOf classifies a module-load error by the driver code in its chain.
func LoadKindOf(err error) LoadErrorKind {
	res, ok := AsResult(err)
	if !ok {
		return LoadOK
	}
	switch res {
	case InvalidImage, InvalidPTX, InvalidSource:
		return LoadMalformedImage
	case NoBinaryForGPU, UnsupportedPTXVersion:
		return LoadUnsupportedTarget
	case SharedObjectSymbolNotFound, SharedObjectInitFailed, OperatingSystemError:
		return LoadResolveFailure
	default:
		return LoadOK
	}
}

// LoadModule loads a compiled device-code image into the context. Requires
// the context to be current. A rejected image leaves the context fully
// usable; classify the rejection with LoadKindOf.
func (c *Context) LoadModule(image []byte) (*Module, error) {
	if err := c.requireCurrent(); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, errors.Wrap(InvalidValue, "LoadModule called with an empty image")
	}
	raw, res := c.drv.api.ModuleLoadData(image)
	if err := status(res, "cuModuleLoadData"); err != nil {
		if kind := LoadKindOf(err); kind != LoadOK {
			err = errors.WithMessagef(err, "module load rejected (%s)", kind)
		}
		return nil, err
	}
	m := &Module{drv: c.drv, ctx: c}
	m.raw.Store(uintptr(raw))
	c.childAcquired()
	modulesAlive.Add(1)
	m.cleanup = runtime.AddCleanup(m, func(args rawDestroyArgs) {
		klog.Warningf("cuda.Module garbage collected without Unload; releasing handle")
		if res := args.api.ModuleUnload(RawModule(args.raw)); res != Success {
			klog.Errorf("cuModuleUnload on leaked module failed: %v", res)
		}
		modulesAlive.Add(-1)
	}, rawDestroyArgs{api: c.drv.api, raw: uintptr(raw)})
	return m, nil
}

func (m *Module) handle() (RawModule, error) {
	if m == nil {
		return 0, errors.WithStack(ErrInvalidHandleUse)
	}
	raw := m.raw.Load()
	if raw == 0 {
		return 0, errors.Wrap(ErrInvalidHandleUse, "Module already unloaded")
	}
	return RawModule(raw), nil
}

// Function looks up a kernel entry point by name. The returned Function
// borrows the module: it has no destructor of its own, and every use
// re-checks that the module is still loaded.
func (m *Module) Function(name string) (Function, error) {
	raw, err := m.handle()
	if err != nil {
		return Function{}, err
	}
	fRaw, res := m.drv.api.ModuleGetFunction(raw, name)
	if err := status(res, "cuModuleGetFunction"); err != nil {
		return Function{}, errors.WithMessagef(err, "function %q not found in module", name)
	}
	return Function{mod: m, raw: fRaw, name: name}, nil
}

// Unload releases the module. Idempotent. Functions previously looked up
// become invalid and fail with ErrInvalidHandleUse.
func (m *Module) Unload() error {
	if m == nil {
		return nil
	}
	raw := m.raw.Swap(0)
	if raw == 0 {
		return nil
	}
	m.cleanup.Stop()
	m.ctx.childReleased()
	modulesAlive.Add(-1)
	return status(m.drv.api.ModuleUnload(RawModule(raw)), "cuModuleUnload")
}

// Function is a named kernel entry point inside a Module. It is a borrowed
// child: a plain value carrying the module's identity, never independently
// destroyed, and invalidated the moment its module is unloaded.
type Function struct {
	mod  *Module
	raw  RawFunction
	name string
}

// Name returns the entry point name the function was looked up with.
func (f Function) Name() string { return f.name }

// handle re-validates the borrow: the function is only usable while its
// module is loaded.
func (f Function) handle() (RawFunction, error) {
	if f.mod == nil {
		return 0, errors.Wrap(ErrInvalidHandleUse, "zero Function")
	}
	if _, err := f.mod.handle(); err != nil {
		return 0, errors.WithMessagef(err, "function %q outlived its module", f.name)
	}
	return f.raw, nil
}
