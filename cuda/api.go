package cuda

// Raw driver handle types. These are the opaque values the driver hands out;
// nothing in this package interprets them beyond equality with zero.
type (
	// Devptr is an address in device memory (CUdeviceptr).
	Devptr uintptr

	// RawDevice is a device ordinal handle (CUdevice).
	RawDevice int32

	// RawContext is an opaque context handle (CUcontext).
	RawContext uintptr

	// RawStream is an opaque stream handle (CUstream).
	RawStream uintptr

	// RawModule is an opaque loaded-module handle (CUmodule).
	RawModule uintptr

	// RawFunction is an opaque kernel entry-point handle (CUfunction).
	RawFunction uintptr

	// RawEvent is an opaque event handle (CUevent).
	RawEvent uintptr
)

// DeviceAttribute selects a device property for API.DeviceGetAttribute
// (CUdevice_attribute). Only the attributes this layer consumes are named.
type DeviceAttribute int32

const (
	AttrMaxThreadsPerBlock      DeviceAttribute = 1
	AttrMaxBlockDimX            DeviceAttribute = 2
	AttrMaxBlockDimY            DeviceAttribute = 3
	AttrMaxBlockDimZ            DeviceAttribute = 4
	AttrMaxGridDimX             DeviceAttribute = 5
	AttrMaxGridDimY             DeviceAttribute = 6
	AttrMaxGridDimZ             DeviceAttribute = 7
	AttrMaxSharedMemoryPerBlock DeviceAttribute = 8
	AttrWarpSize                DeviceAttribute = 10
	AttrMultiprocessorCount     DeviceAttribute = 16
	AttrComputeCapabilityMajor  DeviceAttribute = 75
	AttrComputeCapabilityMinor  DeviceAttribute = 76
)

// API is the raw driver call surface: one method per driver entry point this
// layer consumes, each returning the driver's numeric status verbatim. It
// performs no validation, no wrapping and no ownership tracking; all of that
// lives in the safe layer above.
//
// The production implementation binds libcuda via purego (see driver_linux.go).
// Alternative bindings (cgo, a remoting shim, an in-memory fake for tests)
// plug in through NewDriver.
type API interface {
	Init(flags uint32) Result
	DriverVersion() (int, Result)

	DeviceGetCount() (int, Result)
	DeviceGet(ordinal int) (RawDevice, Result)
	DeviceGetName(dev RawDevice) (string, Result)
	DeviceGetAttribute(attr DeviceAttribute, dev RawDevice) (int, Result)
	DeviceTotalMem(dev RawDevice) (uint64, Result)

	CtxCreate(flags uint32, dev RawDevice) (RawContext, Result)
	CtxDestroy(ctx RawContext) Result
	CtxSetCurrent(ctx RawContext) Result
	CtxGetCurrent() (RawContext, Result)
	CtxSynchronize() Result
	MemGetInfo() (free, total uint64, res Result)

	MemAlloc(bytes uint64) (Devptr, Result)
	MemFree(ptr Devptr) Result
	MemcpyHtoD(dst Devptr, src []byte) Result
	MemcpyDtoH(dst []byte, src Devptr) Result
	MemcpyDtoD(dst, src Devptr, bytes uint64) Result
	MemcpyHtoDAsync(dst Devptr, src []byte, stream RawStream) Result
	MemcpyDtoHAsync(dst []byte, src Devptr, stream RawStream) Result
	MemcpyDtoDAsync(dst, src Devptr, bytes uint64, stream RawStream) Result
	MemsetD8(ptr Devptr, value byte, n uint64) Result

	ModuleLoadData(image []byte) (RawModule, Result)
	ModuleUnload(mod RawModule) Result
	ModuleGetFunction(mod RawModule, name string) (RawFunction, Result)

	StreamCreate(flags uint32) (RawStream, Result)
	StreamDestroy(s RawStream) Result
	StreamSynchronize(s RawStream) Result
	StreamQuery(s RawStream) Result
	StreamWaitEvent(s RawStream, ev RawEvent, flags uint32) Result

	EventCreate(flags uint32) (RawEvent, Result)
	EventDestroy(ev RawEvent) Result
	EventRecord(ev RawEvent, s RawStream) Result
	EventQuery(ev RawEvent) Result
	EventSynchronize(ev RawEvent) Result
	EventElapsedTime(start, end RawEvent) (float32, Result)

	// LaunchKernel enqueues f with the given geometry. Each element of params
	// is the exact byte image of one kernel parameter, in declaration order;
	// the binding passes the driver a pointer to each image.
	LaunchKernel(f RawFunction, grid, block Dim3, sharedMemBytes uint32, s RawStream, params [][]byte) Result
}

// Flags for stream and event creation (CUstream_flags / CUevent_flags).
const (
	StreamDefault     uint32 = 0
	StreamNonBlocking uint32 = 1

	EventDefault       uint32 = 0
	EventBlockingSync  uint32 = 1
	EventDisableTiming uint32 = 2
)
