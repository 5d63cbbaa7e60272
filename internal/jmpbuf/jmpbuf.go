// Package jmpbuf implements non-local exit (setjmp/longjmp) support of
// spec.md §4.G: capturing enough of a mutator's root set to unwind back to
// an ancestor frame and restore its pointer-bearing slots to the values
// they held at capture time. Grounded on the teacher's stack-unwind path
// for panics crossing goroutine boundaries (mazboot/golang/main/traceback.go),
// which walks a frame chain back to a saved recovery point and restores
// register state before resuming; here the "registers" are a frame's
// pointer slots and the recovery point is a JmpBuf rather than a deferred
// recover.
package jmpbuf

import (
	"unsafe"

	"github.com/iansmith/capgc/internal/frame"
	"github.com/iansmith/capgc/internal/fugc"
	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/mutator"
	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/iansmith/capgc/internal/ptr"
	"github.com/iansmith/capgc/internal/rtpanic"
)

// Kind distinguishes the three C entry points this package stands in for.
type Kind int

const (
	// Setjmp saves and later restores the signal deferral depth, mirroring
	// POSIX setjmp's signal-mask save on most platforms.
	Setjmp Kind = iota
	// SetjmpUnderscore skips the signal deferral save/restore, mirroring
	// _setjmp/_longjmp.
	SetjmpUnderscore
	// Sigsetjmp behaves like Setjmp; kept distinct for call-site clarity
	// the way the C API keeps sigsetjmp distinct from setjmp.
	Sigsetjmp
)

func (k Kind) String() string {
	switch k {
	case Setjmp:
		return "setjmp"
	case SetjmpUnderscore:
		return "_setjmp"
	case Sigsetjmp:
		return "sigsetjmp"
	default:
		return "jmpbuf.Kind(?)"
	}
}

// JmpBuf is the special object of spec.md §4.G: a snapshot of one
// mutator's unwind-relevant state at the point Create was called.
type JmpBuf struct {
	Object *objhdr.Header
	Kind   Kind

	mutator *mutator.Mutator

	savedTopFrame       *frame.Frame
	savedTopNativeFrame *frame.NativeFrame
	savedRootCount      int
	savedRegisters      [2]ptr.Ptr
	savedDeferralDepth  int32

	savedLowerAddrs  []uintptr
	savedLowerValues []ptr.Ptr
}

// Create captures m's current frame, native frame, allocation-root count,
// unwind registers and (for Setjmp/Sigsetjmp) signal deferral depth, plus a
// deep copy of the top frame's pointer slots. Each copied slot value passes
// through the store barrier since it is effectively being stored into the
// JmpBuf's own retained memory, per spec.md §4.F.
func Create(m *mutator.Mutator, kind Kind) *JmpBuf {
	h := m.Heap()
	obj := heap.AllocateSpecial(h, m, objhdr.SpecialJmpBuf, 0)

	top := m.TopFrame()
	var addrs []uintptr
	var values []ptr.Ptr
	if top != nil && len(top.Lowers) > 0 {
		addrs = make([]uintptr, len(top.Lowers))
		values = make([]ptr.Ptr, len(top.Lowers))
		copy(addrs, top.Lowers)
		for i, addr := range addrs {
			slot := (*ptr.Ptr)(unsafe.Pointer(addr))
			v := *slot
			fugc.StoreBarrier(h, m, v.Object)
			values[i] = v
		}
	}

	jb := &JmpBuf{
		Object:              obj.Object,
		Kind:                kind,
		mutator:             m,
		savedTopFrame:       top,
		savedTopNativeFrame: m.TopNativeFrame(),
		savedRootCount:      len(m.AllocationRoots()),
		savedRegisters:      m.UnwindRegisters(),
		savedLowerAddrs:     addrs,
		savedLowerValues:    values,
	}
	if kind != SetjmpUnderscore {
		jb.savedDeferralDepth = m.SignalDeferralDepth()
	}
	return jb
}

// longjmpSignal is the panic value LongJmp raises; the matching setjmp call
// site recovers it and resumes as if LongJmp had returned, the way Go's
// panic/recover stands in for a platform jmp_buf's machine-level jump.
type longjmpSignal struct {
	jb    *JmpBuf
	value int
}

// LongJmp unwinds m back to jb's captured frame, restoring its native
// frame, allocation-root count, unwind registers, (for Setjmp/Sigsetjmp)
// signal deferral depth, and the pointer values jb captured at Create time,
// then panics with a sentinel recovered by Recover at the setjmp call site.
//
// It is an error to longjmp into a frame that is no longer on the stack
// (jb.Object must still be reachable from a live setjmp scope that has not
// already returned).
func LongJmp(m *mutator.Mutator, jb *JmpBuf, value int) error {
	if jb.mutator != m {
		return rtpanic.Safetyf("longjmp: jmp_buf %p belongs to a different mutator", jb.Object)
	}
	if !frameOnStack(m.TopFrame(), jb.savedTopFrame) {
		return rtpanic.Safetyf("longjmp: target frame for jmp_buf %p is no longer on the stack", jb.Object)
	}

	m.SetTopFrame(jb.savedTopFrame)
	m.SetTopNativeFrame(jb.savedTopNativeFrame)

	if roots := m.AllocationRoots(); jb.savedRootCount <= len(roots) {
		m.SetAllocationRoots(roots[:jb.savedRootCount])
	}
	m.SetUnwindRegisters(jb.savedRegisters)
	if jb.Kind != SetjmpUnderscore {
		m.SetSignalDeferralDepth(jb.savedDeferralDepth)
	}

	for i, addr := range jb.savedLowerAddrs {
		slot := (*ptr.Ptr)(unsafe.Pointer(addr))
		*slot = jb.savedLowerValues[i]
	}

	rv := value
	if rv == 0 {
		rv = 1 // longjmp(buf, 0) behaves as longjmp(buf, 1), per C semantics.
	}
	panic(&longjmpSignal{jb: jb, value: rv})
}

// frameOnStack reports whether target is target itself or an ancestor of
// top, i.e. still reachable by walking Parent links from the current frame.
func frameOnStack(top, target *frame.Frame) bool {
	if target == nil {
		return true
	}
	for f := top; f != nil; f = f.Parent {
		if f == target {
			return true
		}
	}
	return false
}

// Recover inspects a value returned by Go's recover(). If it is a LongJmp
// targeting jb, it returns the value LongJmp was called with and true; any
// other recovered value (including a longjmp targeting a different
// JmpBuf) is returned unrecognized so the caller can re-panic it.
func Recover(jb *JmpBuf, r any) (value int, ok bool) {
	sig, match := r.(*longjmpSignal)
	if !match || sig.jb != jb {
		return 0, false
	}
	return sig.value, true
}
