package heapviz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/stretchr/testify/require"
)

type stubOwner struct {
	inline [heap.NumSizeClasses]*heap.LocalAllocator
	roots  []*objhdr.Header
}

func (o *stubOwner) InlineAllocator(classIndex int) *heap.LocalAllocator { return o.inline[classIndex] }
func (o *stubOwner) SetInlineAllocator(classIndex int, la *heap.LocalAllocator) {
	o.inline[classIndex] = la
}
func (o *stubOwner) RecordAllocationRoot(obj *objhdr.Header) { o.roots = append(o.roots, obj) }
func (o *stubOwner) Exit()                                   {}
func (o *stubOwner) Enter()                                  {}

func TestRenderProducesNonEmptyImage(t *testing.T) {
	h := heap.NewHeap()
	owner := &stubOwner{}
	heap.Allocate(h, owner, 16)
	heap.Allocate(h, owner, 40)
	p := heap.Allocate(h, owner, 4096)
	require.NoError(t, heap.Free(h, p.Object))

	ctx := Render(h, DefaultStyle)
	img := ctx.Image()
	require.NotNil(t, img)

	bounds := img.Bounds()
	require.Greater(t, bounds.Dx(), labelWidth)
	require.Greater(t, bounds.Dy(), 0)
}

func TestWritePNGWritesAFile(t *testing.T) {
	h := heap.NewHeap()
	owner := &stubOwner{}
	heap.Allocate(h, owner, 16)

	path := filepath.Join(t.TempDir(), "heap.png")
	require.NoError(t, WritePNG(h, DefaultStyle, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestUnreadableFontPathFallsBackToBasicFont(t *testing.T) {
	h := heap.NewHeap()
	owner := &stubOwner{}
	heap.Allocate(h, owner, 16)

	style := Style{FontPath: "/nonexistent/does-not-exist.ttf", FontSize: 12}
	ctx := Render(h, style)
	require.NotNil(t, ctx.Image())
}

func TestRowsGroupBySizeClassAndLarge(t *testing.T) {
	h := heap.NewHeap()
	owner := &stubOwner{}
	heap.Allocate(h, owner, 16)
	heap.Allocate(h, owner, 4096)

	rows := rowsFor(h)
	require.Len(t, rows, heap.NumSizeClasses+1, "one row per size class plus the large-object row")
	require.Equal(t, "large", rows[len(rows)-1].label)
	require.Len(t, rows[len(rows)-1].headers, 1)
}
