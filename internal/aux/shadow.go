package aux

import (
	"sync"
	"unsafe"

	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/iansmith/capgc/internal/ptr"
)

// Slot is one LowerOrBox cell of spec.md §3.3: either empty, a plain lower
// address, or a Box holding a full Ptr. A short per-slot lock keeps the two
// possible representations from tearing; contention is rare since each
// slot only ever has one writer at a time under the mutator's own access
// discipline (the caller already holds whatever frame/write barrier
// guarantees atomicity at a higher level).
type Slot struct {
	mu    sync.Mutex
	box   *Box
	owner *objhdr.Header
	empty bool
}

func newSlot() *Slot { return &Slot{empty: true} }

// StoreLower installs value's owning object (spec.md's "lower" -- in the
// original C layout this is packed as value.object.lower, a 48-bit plain
// address; here the Header pointer itself plays that role directly, since
// Go has no address-space-size pressure forcing the packing), or clears the
// slot if value is not a pointer-bearing value. Matches spec.md §4.B
// store_ptr's default (non-atomic) path.
func (s *Slot) StoreLower(owner *objhdr.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.box = nil
	s.owner = owner
	s.empty = owner == nil
}

// Clear marks the slot as holding no pointer.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.box = nil
	s.owner = nil
	s.empty = true
}

// StoreBox installs a Box indirection, used when the store must be
// 128-bit-atomic (spec.md §4.B "installs a new box").
func (s *Slot) StoreBox(b *Box) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.box = b
	s.empty = false
}

// Box returns the installed box, or nil if the slot holds a plain lower (or
// is empty).
func (s *Slot) Box() *Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.box
}

// Lower returns the plain owning object, or nil if the slot is boxed/empty.
func (s *Slot) Lower() (owner *objhdr.Header, isPlainLower bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.box != nil || s.empty {
		return nil, false
	}
	return s.owner, true
}

// IsEmpty reports whether the slot currently holds no pointer.
func (s *Slot) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.empty
}

// Shadow is the per-object parallel array of Slot, one per WordSize-aligned
// word of the object's payload, per spec.md §3.3.
type Shadow struct {
	slots []Slot
}

// NewShadow allocates a zero-filled shadow sized for an object payload of
// the given byte size, per spec.md §4.C "ensure_aux": "Allocate a
// zero-filled shadow of size(object) bytes."
func NewShadow(payloadSize uintptr) *Shadow {
	numWords := (payloadSize + objhdr.WordSize - 1) / objhdr.WordSize
	sh := &Shadow{slots: make([]Slot, numWords)}
	for i := range sh.slots {
		sh.slots[i].empty = true
	}
	return sh
}

// Slot returns the shadow cell for the word at the given byte offset into
// the object's payload. offset must be WordSize-aligned.
func (sh *Shadow) Slot(byteOffset uintptr) *Slot {
	return &sh.slots[byteOffset/objhdr.WordSize]
}

// NumWords reports how many word slots this shadow covers.
func (sh *Shadow) NumWords() int { return len(sh.slots) }

// EnsureAux lazily installs an aux shadow on h sized for payloadSize bytes,
// racing concurrent installers with a CAS per spec.md §4.C: "Allocation is
// atomic: a CAS installs the new aux pointer into aux; concurrent
// installers observe each other and free their losing allocation." Losers
// here simply drop their candidate Shadow for the Go GC to reclaim, which
// is the Go-native equivalent of "free their losing allocation."
func EnsureAux(h *objhdr.Header, payloadSize uintptr) *Shadow {
	if existing := ShadowOf(h); existing != nil {
		return existing
	}
	candidate := NewShadow(payloadSize)
	if h.CASInstallAuxShadow(unsafe.Pointer(candidate)) {
		return candidate
	}
	return ShadowOf(h)
}

// ShadowOf returns h's installed aux shadow, or nil if none has been
// installed yet.
func ShadowOf(h *objhdr.Header) *Shadow {
	p := h.AuxShadowPointer()
	if p == nil {
		return nil
	}
	return (*Shadow)(p)
}

// StorePointer records value into the shadow slot at byteOffset, matching
// spec.md §4.B store_ptr's aux bookkeeping: a plain lower address normally,
// or a Box when atomic is requested.
func (sh *Shadow) StorePointer(byteOffset uintptr, value ptr.Ptr, atomicStore bool) {
	slot := sh.Slot(byteOffset)
	if value.Object == nil {
		slot.Clear()
		return
	}
	if atomicStore {
		slot.StoreBox(NewBox(value))
		return
	}
	slot.StoreLower(value.Object)
}

// LoadPointer reconstructs the Ptr whose raw half lives at rawValue and
// whose identity is recorded in the shadow slot at byteOffset, per spec.md
// §4.B load_ptr. If the recorded object has been freed, the dangling
// reference is replaced with a boxed integer carrying the original raw
// value, per spec.md §4.E "Free replacement".
func (sh *Shadow) LoadPointer(byteOffset uintptr, rawValue uintptr) ptr.Ptr {
	slot := sh.Slot(byteOffset)
	if b := slot.Box(); b != nil {
		loaded := b.Load()
		if loaded.Object != nil && loaded.Object.IsFree() {
			return ptr.BoxedInt(loaded.Raw)
		}
		return loaded
	}
	obj, ok := slot.Lower()
	if !ok || obj == nil {
		return ptr.BoxedInt(rawValue)
	}
	if obj.IsFree() {
		return ptr.BoxedInt(rawValue)
	}
	return ptr.Ptr{Object: obj, Raw: rawValue}
}
