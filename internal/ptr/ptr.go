// Package ptr implements the tagged pointer capability of spec.md §3.1: a
// (object-header, raw-address) pair. Arithmetic on a Ptr only ever touches
// the raw half; the object half is immutable once created. Grounded on the
// teacher's pointerToUintptr/addToPointer helpers
// (mazboot/golang/main/*.go, e.g. stack_growth.go's memmove) for the
// "always carry a plain address, convert at the edges" idiom, generalized
// here to also carry the capability.
package ptr

import (
	"fmt"

	"github.com/iansmith/capgc/internal/objhdr"
)

// Ptr is a 16-byte capability: an optional owning object plus a raw
// address. A nil Object makes p a "boxed integer" (spec.md §3.1): legal to
// hold, copy, and print, but it fails every access check.
type Ptr struct {
	Object *objhdr.Header
	Raw    uintptr
}

// Create returns a pointer at the base of object's payload.
func Create(object *objhdr.Header) Ptr {
	if object == nil {
		return Ptr{}
	}
	return Ptr{Object: object, Raw: object.Lower}
}

// BoxedInt returns a boxed-integer pointer carrying addr with no capability.
func BoxedInt(addr uintptr) Ptr { return Ptr{Raw: addr} }

// WithRaw returns a copy of p pointing at addr within (or outside) the same
// object. Pure arithmetic: never fails, regardless of bounds.
func WithRaw(p Ptr, addr uintptr) Ptr { return Ptr{Object: p.Object, Raw: addr} }

// WithOffset returns a copy of p offset by delta bytes. spec.md §8 property
// 1: WithOffset never changes Object.
func WithOffset(p Ptr, delta int64) Ptr {
	return Ptr{Object: p.Object, Raw: uintptr(int64(p.Raw) + delta)}
}

// IsBoxedInteger reports whether p carries no capability.
func (p Ptr) IsBoxedInteger() bool { return p.Object == nil }

// IsNull reports the conventional "null pointer": no object and a zero raw
// address. (A boxed integer with a nonzero raw value is not null.)
func (p Ptr) IsNull() bool { return p.Object == nil && p.Raw == 0 }

// String renders p for panic messages and logs, e.g.
// "0x4000(obj=0xc000010000 lower=0x4000 upper=0x4010)" or "0x1234(boxed-int)".
func (p Ptr) String() string {
	if p.Object == nil {
		return fmt.Sprintf("0x%x(boxed-int)", p.Raw)
	}
	return fmt.Sprintf("0x%x(obj=%p lower=0x%x upper=0x%x)", p.Raw, p.Object, p.Object.Lower, p.Object.Upper)
}

// Equal reports whether two pointers carry the same object and raw address.
func Equal(a, b Ptr) bool { return a.Object == b.Object && a.Raw == b.Raw }
