package memops

import (
	"testing"

	"github.com/iansmith/capgc/internal/check"
	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/mutator"
	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/stretchr/testify/require"
)

func origin() check.Origin { return check.Origin{Function: "TestCase", File: "memops_test.go", Line: 1} }

func TestStoreThenLoadPtrRoundTrips(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	payload := heap.Allocate(h, m, 16)

	require.NoError(t, StorePtr(h, m, container.Object, 0, payload, false, origin()))

	loaded, err := LoadPtr(h, m, container.Object, 0, payload.Raw, origin())
	require.NoError(t, err)
	require.Same(t, payload.Object, loaded.Object)
}

func TestStorePtrRejectsWriteToReadonly(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	container.Object.SetFlags(container.Object.Flags() | objhdr.FlagReadonly)
	payload := heap.Allocate(h, m, 16)

	err := StorePtr(h, m, container.Object, 0, payload, false, origin())
	require.Error(t, err)
}

func TestStorePtrPushesStoreBarrierWhileMarking(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	payload := heap.Allocate(h, m, 16)

	h.SetMarking(true)
	require.NoError(t, StorePtr(h, m, container.Object, 0, payload, false, origin()))
	require.Len(t, m.DrainMarkStack(), 1)
}

func TestLoadPtrFusesLoadBarrierWhileMarking(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	payload := heap.Allocate(h, m, 16)
	require.NoError(t, StorePtr(h, m, container.Object, 0, payload, false, origin()))

	h.SetMarking(true)
	_, err := LoadPtr(h, m, container.Object, 0, payload.Raw, origin())
	require.NoError(t, err)
	require.Len(t, m.DrainMarkStack(), 1, "a concurrent load of a live pointer must not lose it to the collector")
}

func TestLoadPtrReturnsBoxedIntegerForFreedPointer(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	payload := heap.Allocate(h, m, 16)
	require.NoError(t, StorePtr(h, m, container.Object, 0, payload, false, origin()))
	require.NoError(t, heap.Free(h, payload.Object))

	loaded, err := LoadPtr(h, m, container.Object, 0, payload.Raw, origin())
	require.NoError(t, err)
	require.True(t, loaded.IsBoxedInteger())
}

func TestCompareAndSwapPtrSucceedsOnMatchingRaw(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	oldVal := heap.Allocate(h, m, 16)
	newVal := heap.Allocate(h, m, 16)
	require.NoError(t, StorePtr(h, m, container.Object, 0, oldVal, true, origin()))

	ok, err := CompareAndSwapPtr(h, m, container.Object, 0, oldVal.Raw, newVal, origin())
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := LoadPtr(h, m, container.Object, 0, newVal.Raw, origin())
	require.NoError(t, err)
	require.Same(t, newVal.Object, loaded.Object)
}

func TestCompareAndSwapPtrFailsOnMismatch(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	oldVal := heap.Allocate(h, m, 16)
	newVal := heap.Allocate(h, m, 16)
	require.NoError(t, StorePtr(h, m, container.Object, 0, oldVal, true, origin()))

	ok, err := CompareAndSwapPtr(h, m, container.Object, 0, ^uintptr(0), newVal, origin())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompareAndSwapPtrInstallsBoxFromPlainLowerOwner(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)
	oldVal := heap.Allocate(h, m, 16)
	newVal := heap.Allocate(h, m, 16)
	other := heap.Allocate(h, m, 16)
	// Non-atomic store leaves the slot holding a plain lower, not a box;
	// this is the CAS lazy-install branch.
	require.NoError(t, StorePtr(h, m, container.Object, 0, oldVal, false, origin()))

	ok, err := CompareAndSwapPtr(h, m, container.Object, 0, oldVal.Raw, newVal, origin())
	require.NoError(t, err)
	require.True(t, ok)

	// A genuine mismatch against the now-installed box must fail without
	// disturbing its content.
	ok, err = CompareAndSwapPtr(h, m, container.Object, 0, oldVal.Raw, other, origin())
	require.NoError(t, err)
	require.False(t, ok, "oldVal.Raw no longer matches the box's current content")

	loaded, err := LoadPtr(h, m, container.Object, 0, newVal.Raw, origin())
	require.NoError(t, err)
	require.Same(t, newVal.Object, loaded.Object)
}

func TestLoadPtrRejectsOutOfBoundsOffset(t *testing.T) {
	h := heap.NewHeap()
	m := mutator.New(h)
	container := heap.Allocate(h, m, 16)

	_, err := LoadPtr(h, m, container.Object, 64, 0, origin())
	require.Error(t, err)
}
