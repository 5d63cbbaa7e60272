package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iansmith/capgc/internal/fugc"
	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/mutator"
)

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run collection cycles against a demo heap",
	}
	cmd.AddCommand(newGCRunCmd())
	cmd.AddCommand(newGCWaitCmd())
	return cmd
}

func newGCRunCmd() *cobra.Command {
	var objectCount int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Allocate a demo workload, drop half of it, and collect",
		RunE: func(cmd *cobra.Command, args []string) error {
			h := heap.NewHeap()
			m := mutator.New(h)
			m.Register()
			defer m.Unregister()
			defer forwardSignals(m)()

			for i := 0; i < objectCount; i++ {
				heap.Allocate(h, m, 16)
			}
			before := len(h.AllObjects())

			// Drop the back half of this mutator's allocation roots so the
			// collector sees them as unreachable.
			roots := m.AllocationRoots()
			m.SetAllocationRoots(roots[:len(roots)/2])

			c := fugc.Initialize(h)
			cycle := c.RequestFresh()
			c.Wait(cycle)

			freed := 0
			for _, o := range h.AllObjects() {
				if o.IsFree() {
					freed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "allocated=%d freed=%d cycle=%d\n", before, freed, cycle)
			return nil
		},
	}
	cmd.Flags().IntVar(&objectCount, "objects", 64, "number of demo objects to allocate")
	return cmd
}

func newGCWaitCmd() *cobra.Command {
	var cycles int
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Request N collection cycles back-to-back and wait for the last one",
		RunE: func(cmd *cobra.Command, args []string) error {
			h := heap.NewHeap()
			c := fugc.Initialize(h)

			var last uint64
			for i := 0; i < cycles; i++ {
				last = c.Request()
			}
			c.Wait(last)
			fmt.Fprintf(cmd.OutOrStdout(), "completed cycle=%d\n", last)
			return nil
		},
	}
	cmd.Flags().IntVar(&cycles, "cycles", 1, "number of cycles to request before waiting")
	return cmd
}
