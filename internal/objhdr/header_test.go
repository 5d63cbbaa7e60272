package objhdr

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestHeaderSizeAndFlags(t *testing.T) {
	h := &Header{Lower: 0x1000, Upper: 0x1018}
	require.Equal(t, uintptr(0x18), h.Size())

	h.SetFlags(FlagGlobal | FlagReadonly)
	require.True(t, h.IsGlobal())
	require.True(t, h.IsReadonly())
	require.False(t, h.IsMMap())
}

func TestSpecialTypeRoundTrip(t *testing.T) {
	f := FlagSpecial.WithSpecialType(SpecialThread)
	require.True(t, f.Has(FlagSpecial))
	require.Equal(t, SpecialThread, f.SpecialType())
}

func TestAlignmentShiftRoundTrip(t *testing.T) {
	f := ObjectFlags(0).WithAlignmentShift(7)
	require.Equal(t, uint(7), f.AlignmentShift())
}

func TestAuxInstallIsRaceFree(t *testing.T) {
	h := &Header{Lower: 0x2000, Upper: 0x2010}
	var a, b byte
	require.True(t, h.CASInstallAuxShadow(unsafe.Pointer(&a)))
	require.False(t, h.CASInstallAuxShadow(unsafe.Pointer(&b)), "second installer must lose")
	require.Equal(t, unsafe.Pointer(&a), h.AuxShadowPointer())
}

func TestMarkFreeIsMonotonic(t *testing.T) {
	h := &Header{Lower: 0x3000, Upper: 0x3010}
	var a byte
	require.True(t, h.CASInstallAuxShadow(unsafe.Pointer(&a)))
	require.True(t, h.MarkFree())
	require.False(t, h.MarkFree(), "freeing twice reports false")
	require.True(t, h.IsFree())
	require.Equal(t, h.Lower, h.Upper, "upper collapses to lower on free")
	require.Equal(t, unsafe.Pointer(&a), h.AuxShadowPointer(), "aux pointer survives free")
}

func TestReuseResetsHeaderForRecycling(t *testing.T) {
	h := &Header{Lower: 0x5000, Upper: 0x5010}
	var shadow byte
	require.True(t, h.CASInstallAuxShadow(unsafe.Pointer(&shadow)))
	h.SetMarked(true)
	h.MarkFree()

	h.Reuse(0x6000, 0x6020, FlagReadonly)

	require.False(t, h.IsFree())
	require.False(t, h.Marked())
	require.Nil(t, h.AuxShadowPointer())
	require.True(t, h.IsReadonly())
	require.Equal(t, uintptr(0x6000), h.Lower)
	require.Equal(t, uintptr(0x20), h.Size())
}

func TestFreeSingleton(t *testing.T) {
	require.True(t, FreeSingleton.IsFree())
	require.True(t, FreeSingleton.IsGlobal())
	require.True(t, FreeSingleton.IsReadonly())
	require.Equal(t, uintptr(0), FreeSingleton.Size())
}
