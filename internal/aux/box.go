// Package aux implements the auxiliary pointer-tracking memory of spec.md
// §3.3: a parallel shadow that tags every word of an object with whatever
// pointer identity it currently holds, plus the AtomicBox indirection that
// lets a 128-bit Ptr be stored atomically without a native 128-bit CAS.
// Grounded on the seqlock idiom in
// other_examples/.../AlephTX-aleph-tx__feeder-shm-seqlock.go.go, adapted
// from a wire-format ring buffer to a single in-process cell.
package aux

import (
	"sync"
	"sync/atomic"

	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/iansmith/capgc/internal/ptr"
)

// Box is the AtomicBox of spec.md §4.B: a small cell that lets a LowerOrBox
// slot reference a full 128-bit Ptr atomically. Reads use a seqlock so they
// never block a concurrent writer; writes take a short lock so concurrent
// CAS attempts serialize.
type Box struct {
	mu     sync.Mutex
	seq    atomic.Uint32
	object *objhdr.Header
	raw    uintptr
}

// NewBox allocates a box initialized to p.
func NewBox(p ptr.Ptr) *Box {
	return &Box{object: p.Object, raw: p.Raw}
}

// Load reads the box's content without blocking a concurrent writer,
// retrying if it observed a torn write.
func (b *Box) Load() ptr.Ptr {
	for {
		s1 := b.seq.Load()
		if s1&1 != 0 {
			continue // writer in progress
		}
		obj := b.object
		raw := b.raw
		s2 := b.seq.Load()
		if s1 == s2 {
			return ptr.Ptr{Object: obj, Raw: raw}
		}
	}
}

// Store installs p, racing any concurrent reader via the seqlock but never
// any concurrent writer (mu serializes those).
func (b *Box) Store(p ptr.Ptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq.Add(1)
	b.object = p.Object
	b.raw = p.Raw
	b.seq.Add(1)
}

// CompareAndSwap compares only the raw half, per spec.md §4.B "Weak/strong
// CAS: compares raw only", and on success stores new in place.
func (b *Box) CompareAndSwap(oldRaw uintptr, new ptr.Ptr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.raw != oldRaw {
		return false
	}
	b.seq.Add(1)
	b.object = new.Object
	b.raw = new.Raw
	b.seq.Add(1)
	return true
}
