package frame

import (
	"testing"

	"github.com/iansmith/capgc/internal/check"
	"github.com/iansmith/capgc/internal/objhdr"
	"github.com/stretchr/testify/require"
)

func TestPushPopFrameChain(t *testing.T) {
	var top *Frame
	origin := &check.Origin{Function: "TestPushPopFrameChain"}

	f1 := PushFrame(top, origin)
	f1.AddLower(0x1000)
	f2 := PushFrame(f1, origin)
	f2.AddLower(0x2000)

	var seen []uintptr
	Walk(f2, func(f *Frame) { seen = append(seen, f.Lowers...) })
	require.Equal(t, []uintptr{0x2000, 0x1000}, seen, "walk visits innermost frame first")

	back := PopFrame(f2)
	require.Same(t, f1, back)
	require.Nil(t, PopFrame(nil))
}

func TestNativeFrameTrackUntrackGuard(t *testing.T) {
	nf := PushNativeFrame(nil)
	obj := &objhdr.Header{Lower: 0x10, Upper: 0x20}

	tracked := nf.Track(obj)
	require.Len(t, nf.LiveObjects(), 1)

	tracked.Untrack()
	require.Empty(t, nf.LiveObjects())

	// Untrack/Close are idempotent.
	tracked.Close()
}

func TestNativeFrameTrackCloseViaDefer(t *testing.T) {
	nf := PushNativeFrame(nil)
	obj := &objhdr.Header{Lower: 0x10, Upper: 0x20}

	func() {
		tr := nf.Track(obj)
		defer tr.Close()
		require.Len(t, nf.LiveObjects(), 1)
	}()

	require.Empty(t, nf.LiveObjects(), "guard must untrack on scope exit")
}

func TestWalkNativeVisitsInnermostFirst(t *testing.T) {
	outer := PushNativeFrame(nil)
	inner := PushNativeFrame(outer)

	var order []*NativeFrame
	WalkNative(inner, func(nf *NativeFrame) { order = append(order, nf) })
	require.Equal(t, []*NativeFrame{inner, outer}, order)

	require.Same(t, outer, PopNativeFrame(inner))
	require.Nil(t, PopNativeFrame(nil))
}
