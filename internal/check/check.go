// Package check implements the access-check engine of spec.md §4.A: the
// read/write/alignment/special-type/aliveness checks that gate every
// mutator memory access, plus the failure taxonomy with printable pointer
// forms. Grounded on the teacher's page-table permission checks
// (mazboot/golang/main/mmu.go) for the "enumerate every failure condition
// by name, attach the faulting address" error style, generalized here from
// page permissions to object-capability bounds.
package check

import (
	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/iansmith/capgc/internal/ptr"
	"github.com/iansmith/capgc/internal/rtpanic"
)

// Origin identifies the call site of a check for diagnostics, mirroring
// spec.md §6's origin/function_origin records.
type Origin struct {
	Function string
	File     string
	Line     int
}

func (o Origin) String() string {
	if o.Function == "" {
		return "<unknown origin>"
	}
	return o.Function + " (" + o.File + ")"
}

// AccessKind distinguishes read and write checks, per spec.md §4.A
// filc_access_kind ("there is no write-only data, checking for write means
// you're also checking for read").
type AccessKind int

const (
	Read AccessKind = iota
	Write
)

// checkCommon runs the bounds/free/special/alignment checks shared by
// CheckRead and CheckWrite.
func checkCommon(p ptr.Ptr, n uintptr, kind AccessKind, origin Origin) *rtpanic.Panic {
	if p.Object == nil {
		return rtpanic.Safetyf("null-object: boxed integer %s is not dereferenceable at %s", p, origin)
	}
	obj := p.Object
	if obj.IsFree() {
		return rtpanic.Safetyf("pointer-to-free-object: %s accessed at %s", p, origin)
	}
	if obj.IsSpecial() {
		return rtpanic.Safetyf("pointer-to-special-object: %s (special=%s) accessed at %s", p, obj.SpecialType(), origin)
	}
	if p.Raw < obj.Lower {
		return rtpanic.Safetyf("below-lower: %s is before object lower bound 0x%x at %s", p, obj.Lower, origin)
	}
	if p.Raw >= obj.Upper {
		return rtpanic.Safetyf("at-or-above-upper: %s is at or past object upper bound 0x%x at %s", p, obj.Upper, origin)
	}
	if obj.Upper-p.Raw < n {
		return rtpanic.Safetyf("short-range: %s has only %d of %d bytes available at %s", p, obj.Upper-p.Raw, n, origin)
	}
	if kind == Write && obj.IsReadonly() {
		return rtpanic.Safetyf("write-to-readonly: %s at %s", p, origin)
	}
	if align := requiredAlignment(n); p.Raw%align != 0 {
		return rtpanic.Safetyf("alignment-not-met: %s needs %d-byte alignment for a %d-byte access at %s", p, align, n, origin)
	}
	return nil
}

// requiredAlignment derives the access alignment from the access size,
// power-of-two-rounded and capped at WordSize, per spec.md §4.A.
func requiredAlignment(n uintptr) uintptr {
	if n == 0 {
		return 1
	}
	align := uintptr(1)
	for align < n && align < objhdr.WordSize {
		align <<= 1
	}
	return align
}

// CheckRead verifies that n bytes can be read starting at p.
func CheckRead(p ptr.Ptr, n uintptr, origin Origin) error {
	if err := checkCommon(p, n, Read, origin); err != nil {
		return err
	}
	return nil
}

// CheckWrite verifies that n bytes can be written starting at p.
func CheckWrite(p ptr.Ptr, n uintptr, origin Origin) error {
	if err := checkCommon(p, n, Write, origin); err != nil {
		return err
	}
	return nil
}

// Optimized performs the same check as CheckRead/CheckWrite but accepts a
// statically-known alignment instead of deriving one from n, mirroring
// spec.md §6's "optimized_access_check" used by compiler-generated inline
// fast paths.
func Optimized(p ptr.Ptr, n, staticAlign uintptr, kind AccessKind, origin Origin) error {
	if p.Object == nil {
		return rtpanic.Safetyf("null-object: boxed integer %s is not dereferenceable at %s", p, origin)
	}
	obj := p.Object
	if obj.IsFree() {
		return rtpanic.Safetyf("pointer-to-free-object: %s accessed at %s", p, origin)
	}
	if obj.IsSpecial() {
		return rtpanic.Safetyf("pointer-to-special-object: %s (special=%s) accessed at %s", p, obj.SpecialType(), origin)
	}
	if p.Raw < obj.Lower || p.Raw >= obj.Upper || obj.Upper-p.Raw < n {
		return rtpanic.Safetyf("out-of-bounds: %s (need %d bytes) at %s", p, n, origin)
	}
	if kind == Write && obj.IsReadonly() {
		return rtpanic.Safetyf("write-to-readonly: %s at %s", p, origin)
	}
	if p.Raw%staticAlign != 0 {
		return rtpanic.Safetyf("alignment-not-met: %s needs %d-byte alignment at %s", p, staticAlign, origin)
	}
	return nil
}

// CheckSpecial verifies p addresses the payload of a live special object of
// the expected type, per spec.md §4.A. The payload start it requires is the
// object's lower bound, where heap.AllocateSpecial places the payload;
// special objects here have no separate out-of-line payload pointer.
func CheckSpecial(p ptr.Ptr, want objhdr.SpecialType, origin Origin) error {
	if p.Object == nil {
		return rtpanic.Safetyf("null-object: boxed integer %s is not a %s at %s", p, want, origin)
	}
	obj := p.Object
	if obj.IsFree() {
		return rtpanic.Safetyf("pointer-to-free-object: %s accessed at %s", p, origin)
	}
	if !obj.IsSpecial() || obj.SpecialType() != want {
		return rtpanic.Safetyf("special-type-mismatch: %s is not a %s at %s", p, want, origin)
	}
	if p.Raw != obj.Lower {
		return rtpanic.Safetyf("not-payload-start: %s must point at the payload start at %s", p, origin)
	}
	return nil
}

// CheckFunctionCall specializes CheckSpecial with FUNCTION, per spec.md
// §4.A.
func CheckFunctionCall(p ptr.Ptr, origin Origin) error {
	return CheckSpecial(p, objhdr.SpecialFunction, origin)
}
