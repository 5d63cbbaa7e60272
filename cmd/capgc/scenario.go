package main

import (
	"fmt"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/iansmith/capgc/internal/check"
	"github.com/iansmith/capgc/internal/frame"
	"github.com/iansmith/capgc/internal/fugc"
	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/jmpbuf"
	"github.com/iansmith/capgc/internal/mutator"
	"github.com/iansmith/capgc/internal/ptr"
)

type scenario struct {
	name string
	run  func() error
}

var scenarios = []scenario{
	{"S1", scenarioS1},
	{"S3", scenarioS3},
	{"S4", scenarioS4},
	{"S5", scenarioS5},
	{"S6", scenarioS6},
	{"S10", scenarioS10},
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scenario", Short: "Run end-to-end scenario demos"}

	run := &cobra.Command{
		Use:   "run [name]",
		Short: "Run one scenario by name, or all of them if omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) > 0 {
				target = args[0]
			}
			failed := false
			for _, s := range scenarios {
				if target != "" && s.name != target {
					continue
				}
				err := s.run()
				status := "PASS"
				if err != nil {
					status = "FAIL: " + err.Error()
					failed = true
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-4s %s\n", s.name, status)
			}
			if failed {
				return fmt.Errorf("one or more scenarios failed")
			}
			return nil
		},
	}
	cmd.AddCommand(run)
	return cmd
}

// scenarioS1: bounds are enforced at every access.
func scenarioS1() error {
	h := heap.NewHeap()
	m := mutator.New(h)
	p := heap.Allocate(h, m, 16)
	origin := check.Origin{Function: "scenarioS1"}

	if err := check.CheckRead(p, 16, origin); err != nil {
		return fmt.Errorf("in-bounds read rejected: %w", err)
	}
	past := ptr.WithRaw(p, p.Object.Upper)
	if err := check.CheckRead(past, 1, origin); err == nil {
		return fmt.Errorf("out-of-bounds read was not rejected")
	}
	return nil
}

// scenarioS3: a soft handshake only runs its callback on an entered
// mutator once it reaches a pollcheck.
func scenarioS3() error {
	m := mutator.New(heap.NewHeap())
	m.Register()
	defer m.Unregister()
	m.Enter()

	ran := make(chan struct{}, 1)
	go mutator.SoftHandshake(func(*mutator.Mutator) { ran <- struct{}{} })

	select {
	case <-ran:
		return fmt.Errorf("handshake ran before the mutator polled")
	default:
	}
	m.Pollcheck()
	<-ran
	return nil
}

// scenarioS4: unreachable objects are reclaimed by the next cycle.
func scenarioS4() error {
	h := heap.NewHeap()
	m := mutator.New(h)
	m.Register()
	defer m.Unregister()

	for i := 0; i < 16; i++ {
		heap.Allocate(h, m, 16)
	}
	m.SetAllocationRoots(nil)

	c := fugc.Initialize(h)
	c.Wait(c.RequestFresh())

	for _, o := range h.AllObjects() {
		if !o.IsFree() {
			return fmt.Errorf("object %p survived with no roots", o)
		}
	}
	return nil
}

// scenarioS5: a memcpy long enough to span several
// MaxBytesBetweenPollchecks chunks yields to a concurrently requested
// collection cycle without losing the object being copied or corrupting
// its payload.
func scenarioS5() error {
	h := heap.NewHeap()
	m := mutator.New(h)
	m.Register()
	defer m.Unregister()

	size := uintptr(4*heap.MaxBytesBetweenPollchecks + 1)
	src := heap.Allocate(h, m, size)
	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(src.Object.Lower)), int(size)), pattern)

	c := fugc.Initialize(h)
	requested := make(chan uint64, 1)
	go func() { requested <- c.RequestFresh() }()

	m.Enter()
	grown := heap.Reallocate(h, m, src.Object, size)
	m.Exit()

	c.Wait(<-requested)

	if grown.Object.IsFree() {
		return fmt.Errorf("object being copied was collected while still reachable")
	}
	got := unsafe.Slice((*byte)(unsafe.Pointer(grown.Object.Lower)), int(size))
	for i, want := range pattern {
		if got[i] != want {
			return fmt.Errorf("copied payload corrupted at byte %d", i)
		}
	}
	return nil
}

// scenarioS6: a native frame pushed after setjmp is rewound by longjmp.
func scenarioS6() error {
	h := heap.NewHeap()
	m := mutator.New(h)

	outer := frame.PushNativeFrame(nil)
	m.SetTopNativeFrame(outer)
	jb := jmpbuf.Create(m, jmpbuf.Setjmp)

	inner := frame.PushNativeFrame(outer)
	m.SetTopNativeFrame(inner)

	if !longjmpRoundTrip(m, jb) {
		return fmt.Errorf("longjmp signal was not recognized")
	}
	if m.TopNativeFrame() != outer {
		return fmt.Errorf("native frame was not rewound to the setjmp point")
	}
	return nil
}

// scenarioS10: a longjmp round-trip restores a frame slot to its
// setjmp-time value.
func scenarioS10() error {
	h := heap.NewHeap()
	m := mutator.New(h)
	a := heap.Allocate(h, m, 16)
	b := heap.Allocate(h, m, 16)

	slot := a
	f := frame.PushFrame(nil, nil)
	f.AddLower(uintptr(unsafe.Pointer(&slot)))
	m.SetTopFrame(f)

	jb := jmpbuf.Create(m, jmpbuf.Setjmp)
	slot = b

	if !longjmpRoundTrip(m, jb) {
		return fmt.Errorf("longjmp signal was not recognized")
	}
	if !ptr.Equal(slot, a) {
		return fmt.Errorf("frame slot was not restored to its setjmp-time value")
	}
	return nil
}

func longjmpRoundTrip(m *mutator.Mutator, jb *jmpbuf.JmpBuf) (ok bool) {
	defer func() {
		_, ok = jmpbuf.Recover(jb, recover())
	}()
	_ = jmpbuf.LongJmp(m, jb, 1)
	return false
}
