package heap

import (
	"sync"
	"unsafe"

	"github.com/iansmith/capgc/internal/objhdr"
)

// slabObjectsPerGrow is how many size-class slots a single slab allocation
// carves up, matching the teacher's heapSegment batching so a grow is rare
// on any hot allocation path.
const slabObjectsPerGrow = 64

// Arena owns every header ever created for one size class: the slabs
// backing their payload bytes, and the free list of headers not currently
// handed out to any mutator. This is the "opaque page allocator" of
// spec.md §6, concretely a growable set of Go-allocated slabs rather than a
// raw mmap, since a Go process has no business calling mmap directly when
// the runtime already gives it a GC-safe way to pin backing storage.
type Arena struct {
	sizeClass uintptr

	mu      sync.Mutex
	backing [][]byte
	headers []*objhdr.Header
	free    []*objhdr.Header
}

func newArena(sizeClass uintptr) *Arena {
	return &Arena{sizeClass: sizeClass}
}

// SizeClass reports the fixed payload size every header in this arena
// provides.
func (a *Arena) SizeClass() uintptr { return a.sizeClass }

// growLocked carves a new slab into slabObjectsPerGrow fresh headers and
// appends them to both the master list and the free list. Caller must hold
// a.mu.
func (a *Arena) growLocked() {
	slabBytes := int(a.sizeClass)*slabObjectsPerGrow + int(objhdr.WordSize)
	buf := make([]byte, slabBytes)
	base := alignUp(uintptr(unsafe.Pointer(&buf[0])), objhdr.WordSize)
	a.backing = append(a.backing, buf)

	for i := 0; i < slabObjectsPerGrow; i++ {
		lower := base + uintptr(i)*a.sizeClass
		h := &objhdr.Header{Lower: lower, Upper: lower + a.sizeClass}
		a.headers = append(a.headers, h)
		a.free = append(a.free, h)
	}
}

// Refill pops up to n free headers, growing the arena as needed. It may
// return fewer than n only if a grow itself failed, which never happens for
// the in-memory slab implementation.
func (a *Arena) Refill(n int) []*objhdr.Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.free) < n {
		a.growLocked()
	}
	start := len(a.free) - n
	batch := append([]*objhdr.Header(nil), a.free[start:]...)
	a.free = a.free[:start]
	return batch
}

// Return pushes headers back onto the free list, per the sweep phase of
// spec.md §4.E returning unmarked objects to their arena.
func (a *Arena) Return(headers []*objhdr.Header) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, headers...)
}

// AllHeaders returns every header this arena has ever minted, free or not,
// for the collector's sweep to walk.
func (a *Arena) AllHeaders() []*objhdr.Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*objhdr.Header, len(a.headers))
	copy(out, a.headers)
	return out
}
