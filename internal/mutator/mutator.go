// Package mutator implements the cooperative mutator/collector coordination
// protocol of spec.md §3.4: each application thread ("mutator") tracks its
// own ENTERED/CHECK_REQUESTED/STOP_REQUESTED state so the collector can
// request a soft handshake or a full stop-the-world pause without ever
// touching another thread's stack directly. Grounded on the teacher's
// goroutine scheduler state machine (mazboot/golang/main/goroutine.go),
// which tracks a small state bitset per goroutine and blocks/wakes threads
// through a lock+cond rather than signals; this package keeps that shape
// and runs it over ordinary goroutines instead of the teacher's bare-metal
// context switch.
package mutator

import (
	"sync"
	"sync/atomic"

	"github.com/iansmith/capgc/internal/frame"
	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/iansmith/capgc/internal/ptr"
)

// State bits, per spec.md §3.4.
const (
	StateEntered State = 1 << iota
	StateCheckRequested
	StateStopRequested
	StateDeferredSignal
)

// State is the mutator's coordination bitset.
type State uint32

func (s State) Has(bit State) bool { return s&bit != 0 }

// handshakeRequest is a pending soft-handshake callback a collector thread
// has asked this mutator to run at its next pollcheck.
type handshakeRequest struct {
	cb   func(*Mutator)
	done chan struct{}
}

// Mutator is one application thread's GC-visible state: its coordination
// bitset, its root set (frames, native frames, allocation roots), its
// per-size-class inline allocators, a scratch mark-stack for donating work
// to the collector, and the register pair longjmp restores.
type Mutator struct {
	id    uint64
	heap  *heap.Heap
	state atomic.Uint32

	mu   sync.Mutex
	cond *sync.Cond

	// enterMu serializes Enter()'s "service any pending handshake, then
	// become ENTERED" sequence against SoftHandshake's "observe NOT
	// entered, run cb inline" fast path (spec.md §4.D enter() step 2), so
	// the collector can never walk a mutator's frames via the inline path
	// at the same moment that mutator transitions into ENTERED and starts
	// mutating them.
	enterMu sync.Mutex

	topFrame        *frame.Frame
	topNativeFrame  *frame.NativeFrame
	allocationRoots []*objhdr.Header

	markStack []*objhdr.Header

	inlineAllocators [heap.NumSizeClasses]*heap.LocalAllocator

	unwindRegisters [2]ptr.Ptr

	pendingHandshake atomic.Pointer[handshakeRequest]

	deferredSignals        []int
	signalDeferralDepth    int32
	signalDeferralDisabled bool
}

// New creates a mutator bound to h, not yet registered with any collector.
func New(h *heap.Heap) *Mutator {
	m := &Mutator{heap: h}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Mutator) loadState() State { return State(m.state.Load()) }

func (m *Mutator) setBit(bit State) {
	for {
		old := m.state.Load()
		next := old | uint32(bit)
		if m.state.CompareAndSwap(old, next) {
			return
		}
	}
}

func (m *Mutator) clearBit(bit State) {
	for {
		old := m.state.Load()
		next := old &^ uint32(bit)
		if m.state.CompareAndSwap(old, next) {
			return
		}
	}
}

// IsEntered reports whether this mutator is currently inside a GC-visible
// section (i.e. could be touching the arena).
func (m *Mutator) IsEntered() bool { return m.loadState().Has(StateEntered) }

// Enter transitions the mutator into a GC-visible section. If a
// stop-the-world is in effect, it blocks until resumed, matching spec.md
// §3.4 "entering while STOP_REQUESTED blocks". Per spec.md §4.D enter()
// step 2, it takes the thread lock and services any handshake callback a
// collector installed while this mutator was parked before transitioning
// to ENTERED, so the collector never sees a torn view of "not entered".
func (m *Mutator) Enter() {
	m.waitWhileStopped()
	m.enterMu.Lock()
	if req := m.pendingHandshake.Swap(nil); req != nil {
		req.cb(m)
		m.clearBit(StateCheckRequested)
		close(req.done)
	}
	m.setBit(StateEntered)
	m.enterMu.Unlock()
}

// Exit leaves the GC-visible section. A soft-handshake callback that arrived
// while the mutator was entered (including StopTheWorld's stop request) runs
// here, before Exit returns; a stop request set that way takes effect at the
// next Enter.
func (m *Mutator) Exit() {
	m.enterMu.Lock()
	m.clearBit(StateEntered)
	if req := m.pendingHandshake.Swap(nil); req != nil {
		req.cb(m)
		m.clearBit(StateCheckRequested)
		close(req.done)
	}
	m.enterMu.Unlock()
}

// Pollcheck is the fast path a compiler would inline at loop back-edges and
// call boundaries: check the bitset, and only take the slow path if the
// collector asked for something or a deferred signal is waiting.
func (m *Mutator) Pollcheck() {
	if s := m.loadState(); !s.Has(StateCheckRequested) && !s.Has(StateStopRequested) && !s.Has(StateDeferredSignal) {
		return
	}
	m.pollcheckSlow()
}

func (m *Mutator) pollcheckSlow() {
	m.Exit()
	m.enterMu.Lock()
	if req := m.pendingHandshake.Swap(nil); req != nil {
		req.cb(m)
		m.clearBit(StateCheckRequested)
		close(req.done)
	}
	m.waitWhileStopped()
	m.setBit(StateEntered)
	m.enterMu.Unlock()
	m.runDeferredSignals()
}

func (m *Mutator) waitWhileStopped() {
	m.mu.Lock()
	for State(m.state.Load()).Has(StateStopRequested) {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// Heap returns the heap m allocates against, for callers (jmpbuf, fugc)
// that need it without threading a second parameter through every API.
func (m *Mutator) Heap() *heap.Heap { return m.heap }

// Register adds m to the default collector registry.
func (m *Mutator) Register() { DefaultRegistry.register(m) }

// Unregister removes m from the default collector registry.
func (m *Mutator) Unregister() { DefaultRegistry.unregister(m) }

// --- frames & roots (component F plumbing) ---

// PushFrame pushes a new compiler-style frame.
func (m *Mutator) PushFrame(origin *frame.Frame) { m.topFrame = origin }

// TopFrame returns the innermost live frame.
func (m *Mutator) TopFrame() *frame.Frame { return m.topFrame }

// SetTopFrame installs f as the current innermost frame (used by PushFrame
// callers and by jmpbuf's unwind).
func (m *Mutator) SetTopFrame(f *frame.Frame) { m.topFrame = f }

// TopNativeFrame returns the innermost live native frame.
func (m *Mutator) TopNativeFrame() *frame.NativeFrame { return m.topNativeFrame }

// SetTopNativeFrame installs nf as the current innermost native frame.
func (m *Mutator) SetTopNativeFrame(nf *frame.NativeFrame) { m.topNativeFrame = nf }

// AllocationRoots returns a snapshot of this mutator's allocation roots,
// safe to call from a soft-handshake callback.
func (m *Mutator) AllocationRoots() []*objhdr.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*objhdr.Header, len(m.allocationRoots))
	copy(out, m.allocationRoots)
	return out
}

// SetAllocationRoots replaces the allocation root list wholesale, used by
// jmpbuf's unwind to restore the saved root count.
func (m *Mutator) SetAllocationRoots(roots []*objhdr.Header) {
	m.mu.Lock()
	m.allocationRoots = roots
	m.mu.Unlock()
}

// UnwindRegisters returns the register pair a longjmp restores, per
// spec.md §4.G.
func (m *Mutator) UnwindRegisters() [2]ptr.Ptr { return m.unwindRegisters }

// SetUnwindRegisters installs the register pair a setjmp captured.
func (m *Mutator) SetUnwindRegisters(regs [2]ptr.Ptr) { m.unwindRegisters = regs }

// --- heap.AllocatorOwner ---

// InlineAllocator implements heap.AllocatorOwner.
func (m *Mutator) InlineAllocator(classIndex int) *heap.LocalAllocator {
	return m.inlineAllocators[classIndex]
}

// SetInlineAllocator implements heap.AllocatorOwner.
func (m *Mutator) SetInlineAllocator(classIndex int, la *heap.LocalAllocator) {
	m.inlineAllocators[classIndex] = la
}

// RecordAllocationRoot implements heap.AllocatorOwner.
func (m *Mutator) RecordAllocationRoot(o *objhdr.Header) {
	m.mu.Lock()
	m.allocationRoots = append(m.allocationRoots, o)
	m.mu.Unlock()
}

// --- mark stack donation (component H plumbing) ---

// PushMark appends o to this mutator's local mark-stack contribution.
func (m *Mutator) PushMark(o *objhdr.Header) {
	m.markStack = append(m.markStack, o)
}

// DrainMarkStack empties and returns this mutator's local mark-stack, for
// fugc.Donate to hand off to the shared collector stack.
func (m *Mutator) DrainMarkStack() []*objhdr.Header {
	drained := m.markStack
	m.markStack = nil
	return drained
}
