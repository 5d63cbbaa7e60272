package heap

import "github.com/iansmith/capgc/internal/objhdr"

// localBatchSize is how many headers a LocalAllocator pulls from its Arena
// at a time, amortizing the Arena's lock across several allocations per the
// teacher's per-goroutine free-list batching in heap.go.
const localBatchSize = 8

// LocalAllocator is a per-mutator, per-size-class cache of free headers, per
// spec.md §3.4's "inline allocators": the fast allocation path never takes
// the Arena's lock unless the cache is empty.
type LocalAllocator struct {
	arena *Arena
	cache []*objhdr.Header
}

func newLocalAllocator(a *Arena) *LocalAllocator {
	return &LocalAllocator{arena: a}
}

// take returns a fresh header from the cache, refilling from the Arena on
// miss.
func (la *LocalAllocator) take() *objhdr.Header {
	if len(la.cache) == 0 {
		la.cache = la.arena.Refill(localBatchSize)
	}
	n := len(la.cache)
	h := la.cache[n-1]
	la.cache = la.cache[:n-1]
	return h
}

// Stop returns every header still sitting in this cache to its Arena's free
// list and empties the cache, per spec.md §4.E Phase 3's first sub-step: a
// mutator's inline allocator cannot keep private, unmarked headers the
// sweep would otherwise never see once the collector starts treating the
// arena's free list as authoritative.
func (la *LocalAllocator) Stop() {
	if len(la.cache) == 0 {
		return
	}
	la.arena.Return(la.cache)
	la.cache = nil
}
