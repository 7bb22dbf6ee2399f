// Package devcopy certifies which host types may be copied bit-for-bit between
// host and device memory.
//
// A type is transfer-certified when its byte representation is complete and
// position-independent: fixed size known at compile time, no interior pointers
// or other host-only references, and no padding bytes whose contents the
// compiler doesn't define. Copying a certified value verbatim into device
// memory yields a valid value of the same type on the device; copying anything
// else corrupts device memory or smuggles host pointers across the boundary.
//
// There are two tiers:
//
//   - The Scalar generic constraint covers the numeric primitives (plus
//     float16.Float16). Functions constrained by Scalar are checked by the
//     compiler: an unsupported type cannot instantiate them at all.
//   - Certify[T] extends certification to composites. Go generics cannot
//     admit user structs into a union constraint, so composite certification
//     is enforced structurally, once per type, at buffer construction: every
//     field must recursively be certified and the struct must add no padding.
//     The result is cached, so after the first use a certification check is a
//     single map lookup.
package devcopy

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Scalar is the set of primitive types certified for device transfer.
// It mirrors the scalar types the device natively operates on.
//
// float16.Float16 (from github.com/x448/float16) is the IEEE 754 half-precision
// type; it is a defined uint16 with the device's `half` bit layout.
type Scalar interface {
	bool |
		int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 |
		complex64 | complex128 |
		float16.Float16
}

// certCache maps reflect.Type to the certification outcome: nil for certified
// types, the rejection error otherwise.
var certCache sync.Map

// Certify reports whether T is transfer-certified. It returns nil for
// certified types and a descriptive error naming the offending field path
// otherwise. The outcome is cached per type.
func Certify[T any]() error {
	return CertifyType(reflect.TypeFor[T]())
}

// MustCertify panics if T is not transfer-certified. Meant for package-level
// assertions next to type definitions, the closest Go equivalent of a derive.
func MustCertify[T any]() {
	if err := Certify[T](); err != nil {
		panic(err)
	}
}

// CertifyType is the non-generic form of Certify, for callers that only hold
// a reflect.Type (e.g. kernel argument marshalling).
func CertifyType(t reflect.Type) error {
	if v, ok := certCache.Load(t); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}
	err := checkType(t, t.String())
	if err == nil {
		certCache.Store(t, nil)
	} else {
		certCache.Store(t, err)
	}
	return err
}

// checkType implements the certification rule: a type is certified iff it is
// a certified scalar, a fixed-size array of a certified type, or a struct
// whose every field is certified and whose size equals the sum of its field
// sizes (no uncertified padding). path names the position being checked, for
// error messages.
func checkType(t reflect.Type, path string) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil

	case reflect.Int, reflect.Uint, reflect.Uintptr:
		// Host-width integers change size across platforms, so their device
		// layout is not stable. Callers should use the sized forms.
		return errors.Errorf("%s: %s has platform-dependent size and is not certified for device transfer", path, t.Kind())

	case reflect.Array:
		return checkType(t.Elem(), path+"[..]")

	case reflect.Struct:
		var fieldBytes uintptr
		for i := range t.NumField() {
			f := t.Field(i)
			if err := checkType(f.Type, path+"."+f.Name); err != nil {
				return err
			}
			fieldBytes += f.Type.Size()
		}
		if fieldBytes != t.Size() {
			return errors.Errorf("%s: struct has %d padding byte(s); padding contents are undefined and cannot cross the host/device boundary", path, t.Size()-fieldBytes)
		}
		return nil

	case reflect.Ptr, reflect.UnsafePointer:
		return errors.Errorf("%s: pointers are host addresses and cannot cross the host/device boundary", path)

	case reflect.Slice, reflect.String, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return errors.Errorf("%s: %s contains host references and is not certified for device transfer", path, t.Kind())

	default:
		return errors.Errorf("%s: kind %s is not certified for device transfer", path, t.Kind())
	}
}

// SizeOf returns the in-memory size of T in bytes.
func SizeOf[T any]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

// SliceBytes reinterprets a slice as its raw bytes, without copying. The
// returned slice aliases s; it is only meaningful for certified element types.
func SliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(s[0])))
}

// ValueBytes copies v into a fresh byte slice holding its exact in-memory
// representation. It returns an error if v's dynamic type is not certified.
func ValueBytes(v any) ([]byte, error) {
	if v == nil {
		return nil, errors.New("nil value is not certified for device transfer")
	}
	rv := reflect.ValueOf(v)
	if err := CertifyType(rv.Type()); err != nil {
		return nil, err
	}
	boxed := reflect.New(rv.Type())
	boxed.Elem().Set(rv)
	return unsafe.Slice((*byte)(boxed.UnsafePointer()), rv.Type().Size()), nil
}
