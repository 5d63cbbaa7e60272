// Package heapviz renders a heap's live/free/marked occupancy as a PNG, the
// hosted debugging analog of the teacher's QEMU framebuffer overlay
// (mazboot/golang/main/gg_circle_qemu.go's gg.Context drawn over a live
// framebuffer). One row per size class, plus a large-object row when the
// heap holds large objects; each
// object's header slot is drawn as a colored cell, and golang/freetype
// backs the row labels when a font file is configured, falling back to
// golang.org/x/image/font's bitmap face otherwise.
package heapviz

import (
	"fmt"
	"os"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/objhdr"
)

const (
	cellSize   = 10
	cellGap    = 2
	rowHeight  = cellSize + 6
	labelWidth = 80
	marginTop  = 12
)

// Style configures the rendered image. FontPath, when set, is loaded with
// gg's freetype-backed LoadFontFace; an empty or unreadable path falls back
// to basicfont.Face7x13.
type Style struct {
	FontPath string
	FontSize float64
}

// DefaultStyle names no font file, so rows are labeled with
// basicfont.Face7x13.
var DefaultStyle = Style{FontSize: 12}

func (s Style) applyFace(ctx *gg.Context) {
	if s.FontPath != "" {
		if err := ctx.LoadFontFace(s.FontPath, s.FontSize); err == nil {
			return
		}
	}
	ctx.SetFontFace(basicfont.Face7x13)
}

// row groups one size class's headers for a single rendered strip.
type row struct {
	label   string
	headers []*objhdr.Header
}

func rowsFor(h *heap.Heap) []row {
	all := h.AllObjects()
	byClass := make(map[int][]*objhdr.Header)
	var large []*objhdr.Header
	for _, o := range all {
		if o.IsSpecial() {
			continue
		}
		idx, ok := heap.ClassIndexOf(o.Size())
		if !ok {
			large = append(large, o)
			continue
		}
		byClass[idx] = append(byClass[idx], o)
	}

	rows := make([]row, 0, heap.NumSizeClasses+1)
	for i := 0; i < heap.NumSizeClasses; i++ {
		rows = append(rows, row{label: fmt.Sprintf("%d B", heap.SizeClassBytes(i)), headers: byClass[i]})
	}
	if len(large) > 0 {
		rows = append(rows, row{label: "large", headers: large})
	}
	return rows
}

func cellColor(o *objhdr.Header) (r, g, b float64) {
	switch {
	case o.IsFree():
		return 0.75, 0.75, 0.75 // free: gray
	case o.Marked():
		return 0.20, 0.70, 0.25 // marked: green
	default:
		return 0.25, 0.45, 0.90 // live, unmarked: blue
	}
}

// Render draws h's occupancy map and returns the gg context holding it
// (callers needing an image.Image can call ctx.Image()).
func Render(h *heap.Heap, style Style) *gg.Context {
	rows := rowsFor(h)
	maxCols := 1
	for _, r := range rows {
		if len(r.headers) > maxCols {
			maxCols = len(r.headers)
		}
	}

	width := labelWidth + maxCols*(cellSize+cellGap) + cellGap
	height := marginTop + len(rows)*rowHeight + marginTop
	if height < 64 {
		height = 64
	}

	ctx := gg.NewContext(width, height)
	ctx.SetRGB(1, 1, 1)
	ctx.Clear()
	style.applyFace(ctx)

	ctx.SetRGB(0.1, 0.1, 0.1)
	for i, r := range rows {
		y := marginTop + i*rowHeight
		ctx.DrawStringAnchored(r.label, 4, float64(y)+cellSize/2, 0, 0.5)

		for j, o := range r.headers {
			x := labelWidth + j*(cellSize+cellGap)
			cr, cg, cb := cellColor(o)
			ctx.SetRGB(cr, cg, cb)
			ctx.DrawRectangle(float64(x), float64(y), cellSize, cellSize)
			ctx.Fill()
		}
	}
	return ctx
}

// WritePNG renders h and writes it to path as a PNG file.
func WritePNG(h *heap.Heap, style Style, path string) error {
	ctx := Render(h, style)
	if err := ctx.SavePNG(path); err != nil {
		return fmt.Errorf("heapviz: writing %s: %w", path, err)
	}
	return nil
}

// WritePNGFile is WritePNG against an already-open file, for callers that
// manage the destination themselves.
func WritePNGFile(h *heap.Heap, style Style, f *os.File) error {
	ctx := Render(h, style)
	return ctx.EncodePNG(f)
}
