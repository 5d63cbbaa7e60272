package heap

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/iansmith/capgc/internal/ptr"
	"github.com/iansmith/capgc/internal/rtpanic"
)

// AllocatorOwner is implemented by mutator.Mutator. Declaring the interface
// here, rather than heap importing mutator, keeps the dependency edge
// pointing one way: mutator imports heap for LocalAllocator, and heap calls
// back into whatever concrete type satisfies this shape. This is the
// structural-interface trick named in spec.md's ambient-stack notes to
// avoid a heap<->mutator import cycle.
type AllocatorOwner interface {
	// InlineAllocator returns this owner's cached allocator for the given
	// size class, or nil if none has been created yet.
	InlineAllocator(classIndex int) *LocalAllocator
	// SetInlineAllocator installs a newly created allocator for classIndex.
	SetInlineAllocator(classIndex int, la *LocalAllocator)
	// RecordAllocationRoot registers o as a fresh allocation root, per
	// spec.md §3.5, so a concurrent collection cycle started before the
	// object is otherwise reachable still finds it.
	RecordAllocationRoot(o *objhdr.Header)
	// Exit and Enter bracket a long zero or copy operation (see
	// MaxBytesBetweenPollchecks) so the owning mutator still gives a
	// collector request a chance to run partway through, per spec.md §4.C/§5.
	Exit()
	Enter()
}

// MaxBytesBetweenPollchecks bounds how many bytes Allocate/AllocateAligned's
// zeroing and Reallocate's copy will touch before yielding to the owner's
// Exit/Enter, per spec.md §4.C/§5. Without this, zeroing or copying a large
// object would hold the mutator ENTERED for the whole operation and a
// soft handshake or stop-the-world request could stall behind it
// indefinitely (scenario S5).
const MaxBytesBetweenPollchecks = 1000

// zeroRange clears size bytes starting at base, releasing owner at every
// MaxBytesBetweenPollchecks-byte boundary and re-entering before continuing.
func zeroRange(owner AllocatorOwner, base, size uintptr) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(base)), int(size))
	for len(buf) > 0 {
		n := len(buf)
		if uintptr(n) > MaxBytesBetweenPollchecks {
			n = int(MaxBytesBetweenPollchecks)
		}
		clear(buf[:n])
		buf = buf[n:]
		if len(buf) > 0 {
			owner.Exit()
			owner.Enter()
		}
	}
}

// zeroPayload clears hdr's whole payload, per Allocate's "fresh,
// zero-valued object" contract.
func zeroPayload(owner AllocatorOwner, hdr *objhdr.Header) {
	if size := hdr.Size(); size > 0 {
		zeroRange(owner, hdr.Lower, size)
	}
}

// copyChunked copies size bytes from src to dst, releasing owner at every
// MaxBytesBetweenPollchecks-byte boundary and re-entering before continuing.
func copyChunked(owner AllocatorOwner, dst, src, size uintptr) {
	dstBuf := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(size))
	srcBuf := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(size))
	for len(dstBuf) > 0 {
		n := len(dstBuf)
		if uintptr(n) > MaxBytesBetweenPollchecks {
			n = int(MaxBytesBetweenPollchecks)
		}
		copy(dstBuf[:n], srcBuf[:n])
		dstBuf = dstBuf[n:]
		srcBuf = srcBuf[n:]
		if len(dstBuf) > 0 {
			owner.Exit()
			owner.Enter()
		}
	}
}

// Heap is the top-level allocator, one per process, shared by every
// mutator's inline allocators.
type Heap struct {
	classes [NumSizeClasses]*Arena

	mu            sync.Mutex
	largeObjects  map[*objhdr.Header][]byte
	classOfHeader map[*objhdr.Header]int

	marking         atomic.Bool
	blackAllocation atomic.Bool
}

// NewHeap creates an empty heap with one Arena per size class.
func NewHeap() *Heap {
	h := &Heap{
		largeObjects:  make(map[*objhdr.Header][]byte),
		classOfHeader: make(map[*objhdr.Header]int),
	}
	for i, sc := range sizeClasses {
		h.classes[i] = newArena(sc)
	}
	return h
}

// IsMarking reports whether a collection cycle currently has the store
// barrier active, per spec.md §4.E phase 1.
func (h *Heap) IsMarking() bool { return h.marking.Load() }

// SetMarking flips the store-barrier-active flag.
func (h *Heap) SetMarking(b bool) { h.marking.Store(b) }

// IsBlackAllocation reports whether fresh allocations are born marked, per
// spec.md §4.E phase 2.
func (h *Heap) IsBlackAllocation() bool { return h.blackAllocation.Load() }

// SetBlackAllocation flips the black-allocation flag.
func (h *Heap) SetBlackAllocation(b bool) { h.blackAllocation.Store(b) }

// AllObjects returns every header the heap currently tracks, live or free,
// for the collector's sweep to walk.
func (h *Heap) AllObjects() []*objhdr.Header {
	var all []*objhdr.Header
	for _, a := range h.classes {
		all = append(all, a.AllHeaders()...)
	}
	h.mu.Lock()
	for o := range h.largeObjects {
		all = append(all, o)
	}
	h.mu.Unlock()
	return all
}

func (h *Heap) allocateFromClass(owner AllocatorOwner, idx int) *objhdr.Header {
	la := owner.InlineAllocator(idx)
	if la == nil {
		la = newLocalAllocator(h.classes[idx])
		owner.SetInlineAllocator(idx, la)
	}
	hdr := la.take()
	h.mu.Lock()
	h.classOfHeader[hdr] = idx
	h.mu.Unlock()
	return hdr
}

func (h *Heap) allocateLarge(size uintptr, flags objhdr.ObjectFlags) *objhdr.Header {
	buf := make([]byte, size+objhdr.WordSize)
	base := alignUp(uintptr(unsafe.Pointer(&buf[0])), objhdr.WordSize)
	hdr := &objhdr.Header{Lower: base, Upper: base + size}
	hdr.SetFlags(flags)
	h.mu.Lock()
	h.largeObjects[hdr] = buf
	h.mu.Unlock()
	return hdr
}

func checkSize(size uintptr) {
	if size > MaxAllocationSize {
		rtpanic.Raise(rtpanic.Safetyf("oversize allocation: %d bytes exceeds the %d byte maximum", size, MaxAllocationSize))
	}
}

func allocateWithFlags(h *Heap, owner AllocatorOwner, size uintptr, flags objhdr.ObjectFlags) ptr.Ptr {
	rounded := roundUpWord(size)
	checkSize(rounded)

	var hdr *objhdr.Header
	if idx, ok := classFor(rounded); ok {
		hdr = h.allocateFromClass(owner, idx)
		hdr.Reuse(hdr.Lower, hdr.Lower+rounded, flags)
	} else {
		hdr = h.allocateLarge(rounded, flags)
	}
	if h.IsBlackAllocation() {
		hdr.SetMarked(true)
	}
	owner.RecordAllocationRoot(hdr)
	zeroPayload(owner, hdr)
	return ptr.Create(hdr)
}

// Allocate returns a fresh, zero-valued object of size bytes, rounded up to
// WordSize, per spec.md §4.C.
func Allocate(h *Heap, owner AllocatorOwner, size uintptr) ptr.Ptr {
	return allocateWithFlags(h, owner, size, 0)
}

// AllocateAligned returns a fresh object of size bytes aligned to align
// bytes. Alignments up to WordSize are satisfied by the ordinary size-class
// path (every class slot is already WordSize-aligned); anything stricter
// takes the large-object path with an over-allocation, per spec.md §4.C's
// alignment edge case.
func AllocateAligned(h *Heap, owner AllocatorOwner, size, align uintptr) ptr.Ptr {
	if align <= objhdr.WordSize {
		return allocateWithFlags(h, owner, size, 0)
	}
	rounded := roundUpWord(size)
	checkSize(rounded)

	buf := make([]byte, rounded+align)
	base := alignUp(uintptr(unsafe.Pointer(&buf[0])), align)
	hdr := &objhdr.Header{Lower: base, Upper: base + rounded}
	hdr.SetFlags(objhdr.ObjectFlags(0).WithAlignmentShift(uint(bits.TrailingZeros(uint(align)))))

	h.mu.Lock()
	h.largeObjects[hdr] = buf
	h.mu.Unlock()

	if h.IsBlackAllocation() {
		hdr.SetMarked(true)
	}
	owner.RecordAllocationRoot(hdr)
	zeroPayload(owner, hdr)
	return ptr.Create(hdr)
}

// AllocateSpecial returns a fresh special object of the given type with a
// payload of the given size, per spec.md §3.2's special-object sub-field.
func AllocateSpecial(h *Heap, owner AllocatorOwner, t objhdr.SpecialType, payloadSize uintptr) ptr.Ptr {
	return allocateWithFlags(h, owner, payloadSize, objhdr.FlagSpecial.WithSpecialType(t))
}

// Reallocate returns a new object of newSize bytes holding a copy of o's
// first min(size(o), newSize) bytes, and frees o. Forbidden for
// special/global/mmap objects, per spec.md §4.C.
func Reallocate(h *Heap, owner AllocatorOwner, o *objhdr.Header, newSize uintptr) ptr.Ptr {
	if o.IsFree() {
		rtpanic.Raise(rtpanic.Safetyf("reallocate of freed object %p", o))
	}
	if o.IsSpecial() || o.IsGlobal() || o.IsMMap() {
		rtpanic.Raise(rtpanic.Safetyf("reallocate forbidden for special/global/mmap object %p", o))
	}

	oldSize := o.Size()
	result := allocateWithFlags(h, owner, newSize, o.Flags())

	n := oldSize
	if result.Object.Size() < n {
		n = result.Object.Size()
	}
	if n > 0 {
		copyChunked(owner, result.Object.Lower, o.Lower, n)
	}

	if err := Free(h, o); err != nil {
		rtpanic.Raise(err.(*rtpanic.Panic))
	}
	return result
}

// Free releases o back to its arena (or drops its large-object backing
// buffer), per spec.md §4.C. Forbidden for special/global/mmap objects, and
// an error to call twice.
func Free(h *Heap, o *objhdr.Header) error {
	if o.IsGlobal() || o.IsMMap() || o.IsSpecial() {
		return rtpanic.Safetyf("free forbidden for special/global/mmap object %p", o)
	}

	h.mu.Lock()
	_, isLarge := h.largeObjects[o]
	idx, hasClass := h.classOfHeader[o]
	h.mu.Unlock()

	if !o.MarkFree() {
		return rtpanic.Safetyf("double free of %p", o)
	}

	if isLarge {
		h.mu.Lock()
		delete(h.largeObjects, o)
		h.mu.Unlock()
		return nil
	}
	if hasClass {
		h.classes[idx].Return([]*objhdr.Header{o})
		return nil
	}
	return rtpanic.Internalf("free of untracked object %p", o)
}
