//go:build linux

package cuda

import (
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

// libcuda binds the CUDA Driver API via purego: libcuda is dlopen'ed at
// runtime and each entry point becomes a Go function pointer. No cgo, so the
// package builds (and its fakes run) on machines without the toolkit.
//
// The _v2 symbol names are the current ABI of the corresponding entry points;
// the unsuffixed ones kept their original ABI.
type libcuda struct {
	cuInit             func(flags uint32) int32
	cuDriverGetVersion func(version *int32) int32

	cuDeviceGetCount     func(count *int32) int32
	cuDeviceGet          func(device *int32, ordinal int32) int32
	cuDeviceGetName      func(name *byte, len int32, dev int32) int32
	cuDeviceGetAttribute func(value *int32, attrib int32, dev int32) int32
	cuDeviceTotalMem     func(bytes *uint64, dev int32) int32

	cuCtxCreate      func(ctx *uintptr, flags uint32, dev int32) int32
	cuCtxDestroy     func(ctx uintptr) int32
	cuCtxSetCurrent  func(ctx uintptr) int32
	cuCtxGetCurrent  func(ctx *uintptr) int32
	cuCtxSynchronize func() int32
	cuMemGetInfo     func(free, total *uint64) int32

	cuMemAlloc        func(dptr *uintptr, bytes uint64) int32
	cuMemFree         func(dptr uintptr) int32
	cuMemcpyHtoD      func(dst uintptr, src unsafe.Pointer, bytes uint64) int32
	cuMemcpyDtoH      func(dst unsafe.Pointer, src uintptr, bytes uint64) int32
	cuMemcpyDtoD      func(dst, src uintptr, bytes uint64) int32
	cuMemcpyHtoDAsync func(dst uintptr, src unsafe.Pointer, bytes uint64, stream uintptr) int32
	cuMemcpyDtoHAsync func(dst unsafe.Pointer, src uintptr, bytes uint64, stream uintptr) int32
	cuMemcpyDtoDAsync func(dst, src uintptr, bytes uint64, stream uintptr) int32
	cuMemsetD8        func(dptr uintptr, value byte, n uint64) int32

	cuModuleLoadData    func(module *uintptr, image unsafe.Pointer) int32
	cuModuleUnload      func(module uintptr) int32
	cuModuleGetFunction func(fn *uintptr, module uintptr, name string) int32

	cuStreamCreate      func(stream *uintptr, flags uint32) int32
	cuStreamDestroy     func(stream uintptr) int32
	cuStreamSynchronize func(stream uintptr) int32
	cuStreamQuery       func(stream uintptr) int32
	cuStreamWaitEvent   func(stream uintptr, event uintptr, flags uint32) int32

	cuEventCreate      func(event *uintptr, flags uint32) int32
	cuEventDestroy     func(event uintptr) int32
	cuEventRecord      func(event uintptr, stream uintptr) int32
	cuEventQuery       func(event uintptr) int32
	cuEventSynchronize func(event uintptr) int32
	cuEventElapsedTime func(ms *float32, start, end uintptr) int32

	cuLaunchKernel func(fn uintptr,
		gridX, gridY, gridZ uint32,
		blockX, blockY, blockZ uint32,
		sharedMemBytes uint32, stream uintptr,
		kernelParams *unsafe.Pointer, extra *unsafe.Pointer) int32
}

// libcudaNames are tried in order; the ".1" soname is what driver installs
// ship, the bare name needs the stubs package or a dev install.
var libcudaNames = []string{"libcuda.so.1", "libcuda.so"}

// loadSystemAPI dlopens libcuda and registers every entry point.
func loadSystemAPI() (API, error) {
	var handle uintptr
	var err error
	for _, name := range libcudaNames {
		handle, err = purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			break
		}
	}
	if handle == 0 {
		return nil, errors.Wrapf(err, "loading the CUDA driver library (tried %v); is the NVIDIA driver installed?", libcudaNames)
	}

	lib := &libcuda{}
	for _, f := range []struct {
		fptr   any
		symbol string
	}{
		{&lib.cuInit, "cuInit"},
		{&lib.cuDriverGetVersion, "cuDriverGetVersion"},
		{&lib.cuDeviceGetCount, "cuDeviceGetCount"},
		{&lib.cuDeviceGet, "cuDeviceGet"},
		{&lib.cuDeviceGetName, "cuDeviceGetName"},
		{&lib.cuDeviceGetAttribute, "cuDeviceGetAttribute"},
		{&lib.cuDeviceTotalMem, "cuDeviceTotalMem_v2"},
		{&lib.cuCtxCreate, "cuCtxCreate_v2"},
		{&lib.cuCtxDestroy, "cuCtxDestroy_v2"},
		{&lib.cuCtxSetCurrent, "cuCtxSetCurrent"},
		{&lib.cuCtxGetCurrent, "cuCtxGetCurrent"},
		{&lib.cuCtxSynchronize, "cuCtxSynchronize"},
		{&lib.cuMemGetInfo, "cuMemGetInfo_v2"},
		{&lib.cuMemAlloc, "cuMemAlloc_v2"},
		{&lib.cuMemFree, "cuMemFree_v2"},
		{&lib.cuMemcpyHtoD, "cuMemcpyHtoD_v2"},
		{&lib.cuMemcpyDtoH, "cuMemcpyDtoH_v2"},
		{&lib.cuMemcpyDtoD, "cuMemcpyDtoD_v2"},
		{&lib.cuMemcpyHtoDAsync, "cuMemcpyHtoDAsync_v2"},
		{&lib.cuMemcpyDtoHAsync, "cuMemcpyDtoHAsync_v2"},
		{&lib.cuMemcpyDtoDAsync, "cuMemcpyDtoDAsync_v2"},
		{&lib.cuMemsetD8, "cuMemsetD8_v2"},
		{&lib.cuModuleLoadData, "cuModuleLoadData"},
		{&lib.cuModuleUnload, "cuModuleUnload"},
		{&lib.cuModuleGetFunction, "cuModuleGetFunction"},
		{&lib.cuStreamCreate, "cuStreamCreate"},
		{&lib.cuStreamDestroy, "cuStreamDestroy_v2"},
		{&lib.cuStreamSynchronize, "cuStreamSynchronize"},
		{&lib.cuStreamQuery, "cuStreamQuery"},
		{&lib.cuStreamWaitEvent, "cuStreamWaitEvent"},
		{&lib.cuEventCreate, "cuEventCreate"},
		{&lib.cuEventDestroy, "cuEventDestroy_v2"},
		{&lib.cuEventRecord, "cuEventRecord"},
		{&lib.cuEventQuery, "cuEventQuery"},
		{&lib.cuEventSynchronize, "cuEventSynchronize"},
		{&lib.cuEventElapsedTime, "cuEventElapsedTime"},
		{&lib.cuLaunchKernel, "cuLaunchKernel"},
	} {
		purego.RegisterLibFunc(f.fptr, handle, f.symbol)
	}
	return lib, nil
}

func (l *libcuda) Init(flags uint32) Result { return Result(l.cuInit(flags)) }

func (l *libcuda) DriverVersion() (int, Result) {
	var v int32
	res := l.cuDriverGetVersion(&v)
	return int(v), Result(res)
}

func (l *libcuda) DeviceGetCount() (int, Result) {
	var n int32
	res := l.cuDeviceGetCount(&n)
	return int(n), Result(res)
}

func (l *libcuda) DeviceGet(ordinal int) (RawDevice, Result) {
	var dev int32
	res := l.cuDeviceGet(&dev, int32(ordinal))
	return RawDevice(dev), Result(res)
}

func (l *libcuda) DeviceGetName(dev RawDevice) (string, Result) {
	buf := make([]byte, 256)
	res := l.cuDeviceGetName(&buf[0], int32(len(buf)), int32(dev))
	if Result(res) != Success {
		return "", Result(res)
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]), Success
}

func (l *libcuda) DeviceGetAttribute(attr DeviceAttribute, dev RawDevice) (int, Result) {
	var v int32
	res := l.cuDeviceGetAttribute(&v, int32(attr), int32(dev))
	return int(v), Result(res)
}

func (l *libcuda) DeviceTotalMem(dev RawDevice) (uint64, Result) {
	var bytes uint64
	res := l.cuDeviceTotalMem(&bytes, int32(dev))
	return bytes, Result(res)
}

func (l *libcuda) CtxCreate(flags uint32, dev RawDevice) (RawContext, Result) {
	var ctx uintptr
	res := l.cuCtxCreate(&ctx, flags, int32(dev))
	return RawContext(ctx), Result(res)
}

func (l *libcuda) CtxDestroy(ctx RawContext) Result { return Result(l.cuCtxDestroy(uintptr(ctx))) }

func (l *libcuda) CtxSetCurrent(ctx RawContext) Result {
	return Result(l.cuCtxSetCurrent(uintptr(ctx)))
}

func (l *libcuda) CtxGetCurrent() (RawContext, Result) {
	var ctx uintptr
	res := l.cuCtxGetCurrent(&ctx)
	return RawContext(ctx), Result(res)
}

func (l *libcuda) CtxSynchronize() Result { return Result(l.cuCtxSynchronize()) }

func (l *libcuda) MemGetInfo() (free, total uint64, res Result) {
	r := l.cuMemGetInfo(&free, &total)
	return free, total, Result(r)
}

func (l *libcuda) MemAlloc(bytes uint64) (Devptr, Result) {
	var dptr uintptr
	res := l.cuMemAlloc(&dptr, bytes)
	return Devptr(dptr), Result(res)
}

func (l *libcuda) MemFree(ptr Devptr) Result { return Result(l.cuMemFree(uintptr(ptr))) }

func (l *libcuda) MemcpyHtoD(dst Devptr, src []byte) Result {
	res := l.cuMemcpyHtoD(uintptr(dst), unsafe.Pointer(unsafe.SliceData(src)), uint64(len(src)))
	runtime.KeepAlive(src)
	return Result(res)
}

func (l *libcuda) MemcpyDtoH(dst []byte, src Devptr) Result {
	res := l.cuMemcpyDtoH(unsafe.Pointer(unsafe.SliceData(dst)), uintptr(src), uint64(len(dst)))
	runtime.KeepAlive(dst)
	return Result(res)
}

func (l *libcuda) MemcpyDtoD(dst, src Devptr, bytes uint64) Result {
	return Result(l.cuMemcpyDtoD(uintptr(dst), uintptr(src), bytes))
}

func (l *libcuda) MemcpyHtoDAsync(dst Devptr, src []byte, stream RawStream) Result {
	res := l.cuMemcpyHtoDAsync(uintptr(dst), unsafe.Pointer(unsafe.SliceData(src)), uint64(len(src)), uintptr(stream))
	runtime.KeepAlive(src)
	return Result(res)
}

func (l *libcuda) MemcpyDtoHAsync(dst []byte, src Devptr, stream RawStream) Result {
	res := l.cuMemcpyDtoHAsync(unsafe.Pointer(unsafe.SliceData(dst)), uintptr(src), uint64(len(dst)), uintptr(stream))
	runtime.KeepAlive(dst)
	return Result(res)
}

func (l *libcuda) MemcpyDtoDAsync(dst, src Devptr, bytes uint64, stream RawStream) Result {
	return Result(l.cuMemcpyDtoDAsync(uintptr(dst), uintptr(src), bytes, uintptr(stream)))
}

func (l *libcuda) MemsetD8(ptr Devptr, value byte, n uint64) Result {
	return Result(l.cuMemsetD8(uintptr(ptr), value, n))
}

func (l *libcuda) ModuleLoadData(image []byte) (RawModule, Result) {
	var mod uintptr
	res := l.cuModuleLoadData(&mod, unsafe.Pointer(unsafe.SliceData(image)))
	runtime.KeepAlive(image)
	return RawModule(mod), Result(res)
}

func (l *libcuda) ModuleUnload(mod RawModule) Result {
	return Result(l.cuModuleUnload(uintptr(mod)))
}

func (l *libcuda) ModuleGetFunction(mod RawModule, name string) (RawFunction, Result) {
	var fn uintptr
	res := l.cuModuleGetFunction(&fn, uintptr(mod), name)
	return RawFunction(fn), Result(res)
}

func (l *libcuda) StreamCreate(flags uint32) (RawStream, Result) {
	var s uintptr
	res := l.cuStreamCreate(&s, flags)
	return RawStream(s), Result(res)
}

func (l *libcuda) StreamDestroy(s RawStream) Result {
	return Result(l.cuStreamDestroy(uintptr(s)))
}

func (l *libcuda) StreamSynchronize(s RawStream) Result {
	return Result(l.cuStreamSynchronize(uintptr(s)))
}

func (l *libcuda) StreamQuery(s RawStream) Result { return Result(l.cuStreamQuery(uintptr(s))) }

func (l *libcuda) StreamWaitEvent(s RawStream, ev RawEvent, flags uint32) Result {
	return Result(l.cuStreamWaitEvent(uintptr(s), uintptr(ev), flags))
}

func (l *libcuda) EventCreate(flags uint32) (RawEvent, Result) {
	var ev uintptr
	res := l.cuEventCreate(&ev, flags)
	return RawEvent(ev), Result(res)
}

func (l *libcuda) EventDestroy(ev RawEvent) Result { return Result(l.cuEventDestroy(uintptr(ev))) }

func (l *libcuda) EventRecord(ev RawEvent, s RawStream) Result {
	return Result(l.cuEventRecord(uintptr(ev), uintptr(s)))
}

func (l *libcuda) EventQuery(ev RawEvent) Result { return Result(l.cuEventQuery(uintptr(ev))) }

func (l *libcuda) EventSynchronize(ev RawEvent) Result {
	return Result(l.cuEventSynchronize(uintptr(ev)))
}

func (l *libcuda) EventElapsedTime(start, end RawEvent) (float32, Result) {
	var ms float32
	res := l.cuEventElapsedTime(&ms, uintptr(start), uintptr(end))
	return ms, Result(res)
}

func (l *libcuda) LaunchKernel(f RawFunction, grid, block Dim3, sharedMemBytes uint32, s RawStream, params [][]byte) Result {
	// The driver takes a NULL-terminated array of pointers, one per kernel
	// parameter, each pointing at that parameter's value.
	ptrs := make([]unsafe.Pointer, len(params)+1)
	for i, p := range params {
		if len(p) > 0 {
			ptrs[i] = unsafe.Pointer(unsafe.SliceData(p))
		}
	}
	var paramsPtr *unsafe.Pointer
	if len(params) > 0 {
		paramsPtr = &ptrs[0]
	}
	res := l.cuLaunchKernel(uintptr(f),
		grid.X, grid.Y, grid.Z,
		block.X, block.Y, block.Z,
		sharedMemBytes, uintptr(s),
		paramsPtr, nil)
	runtime.KeepAlive(params)
	runtime.KeepAlive(ptrs)
	return Result(res)
}
