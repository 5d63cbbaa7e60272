// Package memops implements the checked, barriered pointer load/store and
// atomic operations of spec.md §4.B: every access goes through the
// capability check of internal/check, the plain/boxed bookkeeping of
// internal/aux, and the store/load barrier of internal/fugc, in that order.
// It exists solely to sit above those packages (and heap and mutator) and
// compose them without creating an import cycle: fugc imports aux, so aux
// cannot call fugc's barrier itself. Grounded on the teacher's own
// layering, where mazboot/golang/main/memory.go composes the page
// allocator and the MMU rather than either knowing about the other.
package memops

import (
	"unsafe"

	"github.com/iansmith/capgc/internal/aux"
	"github.com/iansmith/capgc/internal/check"
	"github.com/iansmith/capgc/internal/fugc"
	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/mutator"
	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/iansmith/capgc/internal/ptr"
)

// StorePtr writes value into o's payload at byteOffset: it checks the
// write is in bounds and not to a readonly/freed object, records the
// pointer identity in o's aux shadow (boxed if atomicStore is requested),
// and runs the store barrier so a concurrent mark phase never loses track
// of value's object.
func StorePtr(h *heap.Heap, m *mutator.Mutator, o *objhdr.Header, byteOffset uintptr, value ptr.Ptr, atomicStore bool, origin check.Origin) error {
	dest := ptr.Ptr{Object: o, Raw: o.Lower + byteOffset}
	if err := check.CheckWrite(dest, objhdr.WordSize, origin); err != nil {
		return err
	}
	shadow := aux.EnsureAux(o, o.Size())
	shadow.StorePointer(byteOffset, value, atomicStore)
	*(*uintptr)(unsafe.Pointer(dest.Raw)) = value.Raw
	fugc.StoreBarrier(h, m, value.Object)
	return nil
}

// LoadPtr reads the pointer at o's payload offset byteOffset, given the
// raw bit pattern already read from the underlying memory (rawValue). The
// load is fused with the store barrier per spec.md §4.F: while marking is
// on, a loaded reference is marked and pushed exactly as a stored one would
// be, so a concurrent mutator can never read a pointer the collector then
// fails to trace ("lost-source reads").
func LoadPtr(h *heap.Heap, m *mutator.Mutator, o *objhdr.Header, byteOffset, rawValue uintptr, origin check.Origin) (ptr.Ptr, error) {
	if err := check.CheckRead(ptr.Ptr{Object: o, Raw: o.Lower + byteOffset}, objhdr.WordSize, origin); err != nil {
		return ptr.Ptr{}, err
	}
	shadow := aux.ShadowOf(o)
	if shadow == nil {
		return ptr.BoxedInt(rawValue), nil
	}
	loaded := shadow.LoadPointer(byteOffset, rawValue)
	fugc.StoreBarrier(h, m, loaded.Object)
	return loaded, nil
}

// CompareAndSwapPtr performs an atomic CAS on the Box installed at o's
// payload offset byteOffset (installing one first if absent), comparing
// only the raw half per spec.md §4.B, and barriers new on success.
func CompareAndSwapPtr(h *heap.Heap, m *mutator.Mutator, o *objhdr.Header, byteOffset uintptr, oldRaw uintptr, new ptr.Ptr, origin check.Origin) (bool, error) {
	dest := ptr.Ptr{Object: o, Raw: o.Lower + byteOffset}
	if err := check.CheckWrite(dest, objhdr.WordSize, origin); err != nil {
		return false, err
	}
	shadow := aux.EnsureAux(o, o.Size())
	slot := shadow.Slot(byteOffset)
	box := slot.Box()
	if box == nil {
		// Seed the box from the slot's real owner (if it currently holds a
		// plain lower), not a boxed integer: a failed CAS below must leave
		// the slot holding the same live pointer it held before, not an
		// unowned integer that loses the aux invariant for a pointer that
		// was never actually overwritten.
		owner, _ := slot.Lower()
		box = aux.NewBox(ptr.Ptr{Object: owner, Raw: oldRaw})
		slot.StoreBox(box)
	}
	if !box.CompareAndSwap(oldRaw, new) {
		return false, nil
	}
	fugc.StoreBarrier(h, m, new.Object)
	return true, nil
}
