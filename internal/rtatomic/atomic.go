// Package rtatomic mirrors the teacher runtime's internal/runtime/atomic
// surface (Xadd/Xchg/Load/CompareAndSwap, acquire/release variants) but
// backs it with sync/atomic instead of arch-specific asm stubs, since capgc
// runs hosted rather than freestanding.
package rtatomic

import (
	"sync/atomic"
	"unsafe"
)

// Xadd adds delta to *ptr and returns the new value.
func Xadd(ptr *uint32, delta int32) uint32 {
	return uint32(atomic.AddInt32((*int32)(unsafe.Pointer(ptr)), delta))
}

// Xadd64 adds delta to *ptr and returns the new value.
func Xadd64(ptr *uint64, delta int64) uint64 {
	return uint64(atomic.AddInt64((*int64)(unsafe.Pointer(ptr)), delta))
}

// Xchg swaps new into *ptr and returns the previous value.
func Xchg(ptr *uint32, new uint32) uint32 {
	return atomic.SwapUint32(ptr, new)
}

// Xchg64 swaps new into *ptr and returns the previous value.
func Xchg64(ptr *uint64, new uint64) uint64 {
	return atomic.SwapUint64(ptr, new)
}

// Xchguintptr swaps new into *ptr and returns the previous value.
func Xchguintptr(ptr *uintptr, new uintptr) uintptr {
	return uintptr(atomic.SwapUintptr(ptr, new))
}

// Load reads *ptr.
func Load(ptr *uint32) uint32 { return atomic.LoadUint32(ptr) }

// Load64 reads *ptr.
func Load64(ptr *uint64) uint64 { return atomic.LoadUint64(ptr) }

// LoadAcq is the same as Load on Go's memory model (every atomic load is
// already acquire); kept as a distinct name to mirror the teacher's
// acquire/release-annotated call sites so intent stays legible.
func LoadAcq(ptr *uint32) uint32 { return atomic.LoadUint32(ptr) }

// LoadAcq64 is the acquire-load counterpart of LoadAcq for 64-bit words.
func LoadAcq64(ptr *uint64) uint64 { return atomic.LoadUint64(ptr) }

// StoreRel is the release-store counterpart of ordinary stores.
func StoreRel(ptr *uint32, val uint32) { atomic.StoreUint32(ptr, val) }

// StoreRel64 is the release-store counterpart of ordinary stores.
func StoreRel64(ptr *uint64, val uint64) { atomic.StoreUint64(ptr, val) }

// Cas performs a compare-and-swap, returning true on success.
func Cas(ptr *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(ptr, old, new)
}

// Cas64 performs a compare-and-swap, returning true on success.
func Cas64(ptr *uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(ptr, old, new)
}

// Casuintptr performs a compare-and-swap, returning true on success.
func Casuintptr(ptr *uintptr, old, new uintptr) bool {
	return atomic.CompareAndSwapUintptr(ptr, old, new)
}

