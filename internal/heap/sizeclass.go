// Package heap implements the allocation API of spec.md §4.C/§6: a
// manually managed arena of fixed-size-class slabs plus a large-object path,
// with per-mutator inline allocators so the common allocation path never
// takes an arena's lock. Grounded on the teacher's heapSegment bump/free-list
// allocator (mazboot/golang/main/heap.go) for the segment-and-free-list
// shape, and on the size-classed page allocator in
// other_examples/.../cznic-memory__memory.go.go for the size-class table
// and slab-growth idiom.
package heap

import "github.com/iansmith/capgc/internal/objhdr"

// NumSizeClasses is the number of fixed size classes backed by Arena slabs.
// Allocations larger than the top class take the large-object path.
const NumSizeClasses = 12

var sizeClasses = [NumSizeClasses]uintptr{
	16, 32, 48, 64, 96, 128, 192, 256, 384, 512, 768, 1024,
}

// MaxSmallObjectSize is the largest request served by a size-class arena.
const MaxSmallObjectSize = 1024

// MaxAllocationSize is the hard ceiling past which even the large-object
// path refuses a request, per spec.md §6 "oversize allocations fail with a
// safety panic".
const MaxAllocationSize = 1 << 30

// classFor returns the smallest size class that can hold a WordSize-rounded
// request, or ok=false if size exceeds every class (the large-object path
// applies instead).
func classFor(size uintptr) (idx int, ok bool) {
	for i, c := range sizeClasses {
		if size <= c {
			return i, true
		}
	}
	return -1, false
}

// roundUpWord rounds size up to the next WordSize multiple, per spec.md
// §4.C size-class rounding.
func roundUpWord(size uintptr) uintptr {
	return (size + objhdr.WordSize - 1) &^ (objhdr.WordSize - 1)
}

// alignUp rounds addr up to the next multiple of align, which must be a
// power of two.
func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// ClassIndexOf reports which size class holds an object of the given size,
// or ok=false if size belongs to the large-object path. Exported for
// diagnostics (internal/diag/heapviz) that need to bucket headers by class
// without duplicating the table.
func ClassIndexOf(size uintptr) (idx int, ok bool) {
	return classFor(size)
}

// SizeClassBytes returns the byte size of size class idx.
func SizeClassBytes(idx int) uintptr {
	return sizeClasses[idx]
}
