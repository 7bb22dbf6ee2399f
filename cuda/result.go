package cuda

import (
	"fmt"

	"github.com/pkg/errors"
)

// Result is a raw status code returned by the driver (CUresult).
//
// Result implements error so driver failures can travel through normal Go
// error chains: errors.Is(err, cuda.OutOfMemory) matches a wrapped driver
// code anywhere in the chain.
type Result int

//go:generate go tool enumer -type=Category

// The driver status codes this layer consumes. The numeric values are the
// driver's own and must not be renumbered.
const (
	Success                    Result = 0
	InvalidValue               Result = 1
	OutOfMemory                Result = 2
	NotInitialized             Result = 3
	Deinitialized              Result = 4
	NoDevice                   Result = 100
	InvalidDevice              Result = 101
	InvalidImage               Result = 200
	InvalidContext             Result = 201
	NoBinaryForGPU             Result = 209
	InvalidPTX                 Result = 218
	UnsupportedPTXVersion      Result = 222
	InvalidSource              Result = 300
	FileNotFound               Result = 301
	SharedObjectSymbolNotFound Result = 302
	SharedObjectInitFailed     Result = 303
	OperatingSystemError       Result = 304
	InvalidHandle              Result = 400
	NotFound                   Result = 500
	NotReady                   Result = 600
	IllegalAddress             Result = 700
	LaunchOutOfResources       Result = 701
	LaunchTimeout              Result = 702
	LaunchFailed               Result = 719
	NotPermitted               Result = 800
	NotSupported               Result = 801
	Unknown                    Result = 999
)

// resultNames covers the codes above; the driver defines many more, which
// format as the bare number and categorize as Unknown.
var resultNames = map[Result]string{
	Success:                    "CUDA_SUCCESS",
	InvalidValue:               "CUDA_ERROR_INVALID_VALUE",
	OutOfMemory:                "CUDA_ERROR_OUT_OF_MEMORY",
	NotInitialized:             "CUDA_ERROR_NOT_INITIALIZED",
	Deinitialized:              "CUDA_ERROR_DEINITIALIZED",
	NoDevice:                   "CUDA_ERROR_NO_DEVICE",
	InvalidDevice:              "CUDA_ERROR_INVALID_DEVICE",
	InvalidImage:               "CUDA_ERROR_INVALID_IMAGE",
	InvalidContext:             "CUDA_ERROR_INVALID_CONTEXT",
	NoBinaryForGPU:             "CUDA_ERROR_NO_BINARY_FOR_GPU",
	InvalidPTX:                 "CUDA_ERROR_INVALID_PTX",
	UnsupportedPTXVersion:      "CUDA_ERROR_UNSUPPORTED_PTX_VERSION",
	InvalidSource:              "CUDA_ERROR_INVALID_SOURCE",
	FileNotFound:               "CUDA_ERROR_FILE_NOT_FOUND",
	SharedObjectSymbolNotFound: "CUDA_ERROR_SHARED_OBJECT_SYMBOL_NOT_FOUND",
	SharedObjectInitFailed:     "CUDA_ERROR_SHARED_OBJECT_INIT_FAILED",
	OperatingSystemError:       "CUDA_ERROR_OPERATING_SYSTEM",
	InvalidHandle:              "CUDA_ERROR_INVALID_HANDLE",
	NotFound:                   "CUDA_ERROR_NOT_FOUND",
	NotReady:                   "CUDA_ERROR_NOT_READY",
	IllegalAddress:             "CUDA_ERROR_ILLEGAL_ADDRESS",
	LaunchOutOfResources:       "CUDA_ERROR_LAUNCH_OUT_OF_RESOURCES",
	LaunchTimeout:              "CUDA_ERROR_LAUNCH_TIMEOUT",
	LaunchFailed:               "CUDA_ERROR_LAUNCH_FAILED",
	NotPermitted:               "CUDA_ERROR_NOT_PERMITTED",
	NotSupported:               "CUDA_ERROR_NOT_SUPPORTED",
	Unknown:                    "CUDA_ERROR_UNKNOWN",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("CUDA_ERROR(%d)", int(r))
}

// Error implements the error interface. Success never reaches an error path,
// but it formats sensibly anyway.
func (r Result) Error() string {
	return r.String()
}

// Category groups driver status codes into the classes callers branch on.
// Fine-grained codes remain available on the Result itself.
type Category int

const (
	CategorySuccess Category = iota
	CategoryInvalidValue
	CategoryOutOfMemory
	CategoryInvalidHandle
	CategoryLoadFailure
	CategoryLaunchFailure
	CategoryNotReady
	CategoryUnsupported
	CategoryUnknown
)

// Category classifies the status code.
func (r Result) Category() Category {
	switch r {
	case Success:
		return CategorySuccess
	case InvalidValue:
		return CategoryInvalidValue
	case OutOfMemory:
		return CategoryOutOfMemory
	case NotInitialized, Deinitialized, NoDevice, InvalidDevice,
		InvalidContext, InvalidHandle, NotFound:
		return CategoryInvalidHandle
	case InvalidImage, InvalidPTX, UnsupportedPTXVersion, InvalidSource,
		FileNotFound, SharedObjectSymbolNotFound, SharedObjectInitFailed,
		NoBinaryForGPU:
		return CategoryLoadFailure
	case IllegalAddress, LaunchOutOfResources, LaunchTimeout, LaunchFailed:
		return CategoryLaunchFailure
	case NotReady:
		return CategoryNotReady
	case NotSupported, NotPermitted:
		return CategoryUnsupported
	default:
		return CategoryUnknown
	}
}

// status translates a raw driver code into a Go error: nil on Success,
// otherwise the Result wrapped with the driver entry point that produced it
// and a stack trace.
//
// NotReady is deliberately NOT special-cased here: the polling call sites
// (Stream.Query, Event.Query) intercept it before translation, because there
// a NotReady code is a normal outcome, not a failure.
func status(r Result, op string) error {
	if r == Success {
		return nil
	}
	return errors.Wrapf(r, "%s", op)
}

// AsResult extracts the driver status code from an error chain, if one is
// present. Local precondition failures (length mismatch, released handles,
// bad launch dimensions) carry no driver code.
func AsResult(err error) (Result, bool) {
	var r Result
	ok := errors.As(err, &r)
	return r, ok
}

// Local precondition failures, detected and reported before any driver call.
// Match with errors.Is.
var (
	// ErrInvalidHandleUse reports an operation attempted on a handle that was
	// already released (or never initialized). The driver is not invoked.
	ErrInvalidHandleUse = errors.New("operation on a released or uninitialized handle")

	// ErrLengthMismatch reports a copy whose source and destination lengths
	// differ. No partial copy is performed.
	ErrLengthMismatch = errors.New("source and destination lengths differ")

	// ErrNoCurrentContext reports an operation that needs a current context
	// while none is bound on the calling thread.
	ErrNoCurrentContext = errors.New("no CUDA context is current")

	// ErrNotCertified reports a type that failed device-transfer
	// certification (see the devcopy package).
	ErrNotCertified = errors.New("type is not certified for device transfer")

	// ErrBadLaunchConfig reports launch dimensions or shared memory outside
	// the device limits, rejected before submission.
	ErrBadLaunchConfig = errors.New("invalid launch configuration")
)
