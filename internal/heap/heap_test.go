package heap

import (
	"testing"
	"unsafe"

	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/stretchr/testify/require"
)

// testOwner is a minimal AllocatorOwner stand-in for a mutator, exercising
// the same structural interface mutator.Mutator implements.
type testOwner struct {
	inline [NumSizeClasses]*LocalAllocator
	roots  []*objhdr.Header
}

func (o *testOwner) InlineAllocator(classIndex int) *LocalAllocator { return o.inline[classIndex] }
func (o *testOwner) SetInlineAllocator(classIndex int, la *LocalAllocator) {
	o.inline[classIndex] = la
}
func (o *testOwner) RecordAllocationRoot(obj *objhdr.Header) { o.roots = append(o.roots, obj) }
func (o *testOwner) Exit()                                   {}
func (o *testOwner) Enter()                                  {}

func TestAllocateRoundsToWordSizeAndIsZeroed(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := Allocate(h, owner, 5)
	require.Equal(t, uintptr(16), p.Object.Size(), "5 bytes rounds up to WordSize")
	require.Contains(t, owner.roots, p.Object)
	require.Equal(t, make([]byte, 16), unsafeBytes(p.Object))
}

func TestRecycledHeaderPayloadIsRezeroed(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := Allocate(h, owner, 16)
	copy(unsafeBytes(p.Object), []byte("not zero at all!"))
	require.NoError(t, Free(h, p.Object))

	// A fresh owner refills from the arena, whose free list now ends with p.
	p2 := Allocate(h, &testOwner{}, 16)
	require.Same(t, p.Object, p2.Object, "the freed header must be the one handed out again")
	require.Equal(t, make([]byte, 16), unsafeBytes(p2.Object), "recycled payload must be rezeroed, not carry the prior tenant's bytes")
}

func TestAllocateZeroingYieldsAcrossMaxBytesBetweenPollchecks(t *testing.T) {
	h := NewHeap()
	owner := &countingOwner{}

	size := uintptr(3*MaxBytesBetweenPollchecks + 1)
	Allocate(h, owner, size)
	require.Equal(t, 3, owner.exits, "a zero spanning N*MaxBytesBetweenPollchecks must yield N times")
	require.Equal(t, owner.exits, owner.enters)
}

func TestReallocateCopyYieldsAcrossMaxBytesBetweenPollchecks(t *testing.T) {
	h := NewHeap()
	owner := &countingOwner{}

	size := uintptr(2*MaxBytesBetweenPollchecks + 1)
	p := Allocate(h, owner, size)
	before := owner.exits

	grown := Reallocate(h, owner, p.Object, size)
	require.Equal(t, size, grown.Object.Size())
	// Reallocate both zeroes the fresh object (2 yields for this size) and
	// then copies the old payload into it (2 more yields): 4 total.
	require.Equal(t, before+4, owner.exits, "a copy spanning N*MaxBytesBetweenPollchecks must yield")
	require.Equal(t, owner.exits, owner.enters)
}

// countingOwner counts Exit/Enter calls to verify the chunked zero/copy
// helpers actually yield at the documented boundary.
type countingOwner struct {
	testOwner
	exits, enters int
}

func (o *countingOwner) Exit()  { o.exits++ }
func (o *countingOwner) Enter() { o.enters++ }

func TestAllocateChoosesSmallestFittingClass(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := Allocate(h, owner, 40)
	require.Equal(t, uintptr(48), p.Object.Size())
}

func TestAllocateLargeObjectBypassesSizeClasses(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := Allocate(h, owner, 4096)
	require.Equal(t, uintptr(4096), p.Object.Size())
}

func TestOversizeAllocationPanics(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	require.Panics(t, func() {
		Allocate(h, owner, MaxAllocationSize+1)
	})
}

func TestFreeThenDoubleFreeFails(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := Allocate(h, owner, 32)
	require.NoError(t, Free(h, p.Object))
	require.True(t, p.Object.IsFree())
	require.Error(t, Free(h, p.Object), "double free must fail")
}

func TestFreeForbiddenForSpecialObject(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := AllocateSpecial(h, owner, objhdr.SpecialThread, 64)
	require.Error(t, Free(h, p.Object))
}

func TestReallocateCopiesAndFreesOld(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := Allocate(h, owner, 16)
	buf := unsafeBytes(p.Object)
	copy(buf, []byte("hello world12345"))

	grown := Reallocate(h, owner, p.Object, 64)
	require.True(t, p.Object.IsFree(), "old object must be freed")
	require.Equal(t, uintptr(64), grown.Object.Size())
	require.Equal(t, []byte("hello world12345"), unsafeBytes(grown.Object)[:16])
}

func TestReallocateForbiddenForGlobalObject(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}
	g := &objhdr.Header{Lower: 0x1000, Upper: 0x1010}
	g.SetFlags(objhdr.FlagGlobal)
	require.Panics(t, func() {
		Reallocate(h, owner, g, 32)
	})
}

func TestRecycledHeaderClearsAuxAndMark(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := Allocate(h, owner, 16)
	var shadow byte
	require.True(t, p.Object.CASInstallAuxShadow(unsafe.Pointer(&shadow)))
	p.Object.SetMarked(true)
	require.NoError(t, Free(h, p.Object))

	// A fresh owner refills from the arena, whose free list now ends with p.
	p2 := Allocate(h, &testOwner{}, 16)
	require.Same(t, p.Object, p2.Object, "the freed header must be the one handed out again")
	require.Nil(t, p2.Object.AuxShadowPointer(), "recycled header must not carry the old aux shadow")
	require.False(t, p2.Object.Marked(), "recycled header must not carry the old mark bit")
}

func TestBlackAllocationMarksFreshObjects(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}
	h.SetBlackAllocation(true)

	p := Allocate(h, owner, 16)
	require.True(t, p.Object.Marked())
}

func TestAllocateAlignedSatisfiesStrictAlignment(t *testing.T) {
	h := NewHeap()
	owner := &testOwner{}

	p := AllocateAligned(h, owner, 100, 256)
	require.Zero(t, p.Object.Lower%256)
	require.Equal(t, uint(8), p.Object.AlignmentShift())
}

func unsafeBytes(o *objhdr.Header) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(o.Lower)), int(o.Size()))
}
