// Package objhdr implements the per-allocation object header of spec.md
// §3.2: lower/upper bounds, a lazily-installed aux shadow, and a flags
// bitset. It is grounded on the teacher's heapSegment header
// (mazboot/golang/main/heap.go), whose header precedes its payload; here the
// header is a separate Go value that records its payload's bounds, and it
// also carries the aux shadow pointer and special-type flags that
// heapSegment never needed.
package objhdr

import (
	"sync/atomic"
	"unsafe"
)

// WordSize is the GC's minimum object granularity. spec.md §3.2 fixes it at
// 16 bytes (the size of a tagged Ptr), matching FILC_WORD_SIZE in
// original_source/libpas/src/libpas/filc_runtime.h.
const WordSize = 16

// Header is the per-allocation metadata block of spec.md §3.2. It is a
// separate Go value, not stored in the payload memory; Lower and Upper
// record where its payload lives (see internal/heap).
//
// Design note: the original C runtime
// packs the FREE bit into the same word as the aux pointer so that one CAS
// resolves the race between installing aux and freeing the object. Go gives
// us independent atomics with real memory-safety guarantees, so here the
// same invariant -- no aux installer ever succeeds after a concurrent free
// -- is expressed as an explicit free-check inside the aux CAS instead of a
// bit-packed word.
type Header struct {
	Lower uintptr
	Upper uintptr

	free atomic.Bool

	// auxShadow holds an opaque pointer to this object's internal/aux.Shadow
	// (stored as *byte and cast back by that package via unsafe.Pointer, to
	// avoid an import cycle). Using a real atomic.Pointer keeps the Shadow
	// reachable to the Go garbage collector for as long as the Header is,
	// even though the payload these headers describe lives in a manually
	// managed arena.
	auxShadow atomic.Pointer[byte]

	flags atomic.Uint32

	// mark is the collector's mark bit for the current cycle. It is a
	// separate word (rather than a Flags bit) because it is written by
	// concurrent marking goroutines far more often than Flags ever changes.
	mark atomic.Bool
}

// Size returns upper-lower, the payload size in bytes.
func (h *Header) Size() uintptr { return h.Upper - h.Lower }

// Flags returns the static flags bitset (everything except FREE, which has
// its own atomic per the design note above).
func (h *Header) Flags() ObjectFlags { return ObjectFlags(h.flags.Load()) }

// SetFlags installs f at creation time. Not safe to call concurrently with
// readers; only the allocator should call this, before the header is
// published to any mutator.
func (h *Header) SetFlags(f ObjectFlags) { h.flags.Store(uint32(f)) }

// IsFree reports whether free(object) has run.
func (h *Header) IsFree() bool { return h.free.Load() }

// IsGlobal, IsMMap, IsReadonly, IsSysVShm, IsSpecial mirror the flag bits
// named in spec.md §3.2.
func (h *Header) IsGlobal() bool   { return h.Flags().Has(FlagGlobal) }
func (h *Header) IsMMap() bool     { return h.Flags().Has(FlagMMap) }
func (h *Header) IsReadonly() bool { return h.Flags().Has(FlagReadonly) }
func (h *Header) IsSysVShm() bool  { return h.Flags().Has(FlagSysVShm) }
func (h *Header) IsSpecial() bool  { return h.Flags().Has(FlagSpecial) }

// SpecialType returns the special-type sub-field (meaningless unless
// IsSpecial()).
func (h *Header) SpecialType() SpecialType { return h.Flags().SpecialType() }

// AlignmentShift returns log2(alignment) for objects aligned beyond
// WordSize, or 0 otherwise.
func (h *Header) AlignmentShift() uint { return h.Flags().AlignmentShift() }

// AuxShadowPointer returns the installed aux shadow, or nil if none has
// been installed yet.
func (h *Header) AuxShadowPointer() unsafe.Pointer {
	return unsafe.Pointer(h.auxShadow.Load())
}

// CASInstallAuxShadow attempts to atomically install p as this object's aux
// shadow. It fails if an aux shadow is already installed, or if the object
// has since been freed, per spec.md §4.C "Aux lazy creation": "Loser frees
// its allocation implicitly via GC" -- the caller is expected to simply
// drop its now-orphaned candidate on failure.
func (h *Header) CASInstallAuxShadow(p unsafe.Pointer) bool {
	if h.free.Load() {
		return false
	}
	return h.auxShadow.CompareAndSwap(nil, (*byte)(p))
}

// MarkFree atomically transitions the object to FREE, per spec.md §3.2
// "Lifecycle ... transitions monotonically to FREE via free". Returns false
// if already free.
func (h *Header) MarkFree() bool {
	if !h.free.CompareAndSwap(false, true) {
		return false
	}
	h.Upper = h.Lower // "upper := lower" per spec.md §4.A
	return true
}

// SetMarked sets or clears this cycle's mark bit and reports the previous
// value, used by fugc's "mark if not already marked" CAS idiom (spec.md
// §6 "set_is_marked_relaxed").
func (h *Header) SetMarked(marked bool) (previous bool) {
	return h.mark.Swap(marked)
}

// Marked reports the current mark bit.
func (h *Header) Marked() bool { return h.mark.Load() }

// Reuse resets a freed header for a new allocation at [lower, upper) with
// flags f, clearing the aux shadow and mark bit along with it. Only the
// allocator may call this, and only on a header it knows to be FREE and
// unreachable from any live Ptr (the slot's generation has already been
// retired by the collector's sweep), per spec.md §4.C size-class recycling.
func (h *Header) Reuse(lower, upper uintptr, f ObjectFlags) {
	h.Lower = lower
	h.Upper = upper
	h.auxShadow.Store(nil)
	h.flags.Store(uint32(f))
	h.mark.Store(false)
	h.free.Store(false)
}

// FreeSingleton is the statically allocated, FREE|GLOBAL|READONLY,
// zero-sized object of spec.md §3.2 "The free singleton". Dangling loads do
// not point at it: internal/aux and fugc.MarkOrFree turn a pointer to a
// freed object into a boxed integer.
var FreeSingleton = newFreeSingleton()

func newFreeSingleton() *Header {
	h := &Header{}
	h.SetFlags(FlagGlobal | FlagReadonly)
	h.free.Store(true)
	return h
}
