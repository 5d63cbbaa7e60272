// Package frame implements the compiler-emitted and runtime-pushed root
// sets of spec.md §3.5: the Frame chain a compiler would emit per call to
// list live object slots, and the NativeFrame stack the runtime pushes
// around native calls to keep handles alive. Grounded on the teacher's
// goroutine/stack-growth root walking (mazboot/golang/main/goroutine.go,
// stack_growth.go), which walks a linked chain of frame records to find
// live pointers during a stack copy; here the same chain shape roots the
// collector's scan instead of a stack-copy.
package frame

import (
	"github.com/iansmith/capgc/internal/check"
	"github.com/iansmith/capgc/internal/objhdr"
)

// Frame is one compiler-emitted activation record: a linked list (via
// Parent) of stack frames, each listing the addresses of its live,
// pointer-typed local slots so the collector can scan them as roots
// without walking raw stack memory.
type Frame struct {
	Parent *Frame
	Origin *check.Origin
	Lowers []uintptr
}

// PushFrame links f as the new top-of-stack frame, returning it for the
// caller to hold and later pass to PopFrame.
func PushFrame(top *Frame, origin *check.Origin) *Frame {
	return &Frame{Parent: top, Origin: origin}
}

// PopFrame returns the caller's frame, discarding f's roots.
func PopFrame(f *Frame) *Frame {
	if f == nil {
		return nil
	}
	return f.Parent
}

// AddLower records addr as a live root in f.
func (f *Frame) AddLower(addr uintptr) {
	f.Lowers = append(f.Lowers, addr)
}

// Walk invokes visit for every frame from f up through the root frame (nil
// Parent), in innermost-first order, per spec.md §4.D root-scan.
func Walk(f *Frame, visit func(*Frame)) {
	for cur := f; cur != nil; cur = cur.Parent {
		visit(cur)
	}
}

// NativeFrame is a runtime-pushed frame around a native (non-compiler-
// generated) call, keeping explicitly tracked objects alive for the
// duration of the call, per spec.md §3.5.
type NativeFrame struct {
	Parent  *NativeFrame
	Objects []*objhdr.Header
	Locked  bool
}

// PushNativeFrame links nf as the new top native frame.
func PushNativeFrame(top *NativeFrame) *NativeFrame {
	return &NativeFrame{Parent: top}
}

// PopNativeFrame returns the caller's native frame.
func PopNativeFrame(nf *NativeFrame) *NativeFrame {
	if nf == nil {
		return nil
	}
	return nf.Parent
}

// WalkNative invokes visit for every native frame from nf up through the
// root (nil Parent), innermost-first.
func WalkNative(nf *NativeFrame, visit func(*NativeFrame)) {
	for cur := nf; cur != nil; cur = cur.Parent {
		visit(cur)
	}
}

// Tracked is an RAII-style guard returned by NativeFrame.Track, per the
// spec.md §9 REDESIGN FLAGS note that a memory-safe reimplementation
// should encode manual object tracking with such a guard instead of a bare
// untrack call the caller might forget.
type Tracked struct {
	frame  *NativeFrame
	index  int
	closed bool
}

// Track appends o to nf's tracked-object list and returns a guard that
// removes it again on Untrack/Close. Safe to call Untrack or Close exactly
// once; calling either a second time is a no-op.
func (nf *NativeFrame) Track(o *objhdr.Header) Tracked {
	nf.Objects = append(nf.Objects, o)
	return Tracked{frame: nf, index: len(nf.Objects) - 1}
}

// Untrack releases the tracked object, clearing its slot so the collector
// no longer treats it as a root. Equivalent to Close; kept as a distinct
// name to mirror the teacher's explicit release-method style.
func (t *Tracked) Untrack() {
	if t.closed || t.frame == nil {
		return
	}
	t.frame.Objects[t.index] = nil
	t.closed = true
}

// Close is Untrack under a defer-friendly name.
func (t *Tracked) Close() { t.Untrack() }

// LiveObjects returns nf's currently tracked, non-untracked objects.
func (nf *NativeFrame) LiveObjects() []*objhdr.Header {
	live := make([]*objhdr.Header, 0, len(nf.Objects))
	for _, o := range nf.Objects {
		if o != nil {
			live = append(live, o)
		}
	}
	return live
}
