package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iansmith/capgc/internal/diag/heapviz"
	"github.com/iansmith/capgc/internal/heap"
	"github.com/iansmith/capgc/internal/mutator"
)

func newHeapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heap",
		Short: "Inspect a demo heap's size-class occupancy",
	}
	cmd.AddCommand(newHeapStatsCmd())
	return cmd
}

func newHeapStatsCmd() *cobra.Command {
	var objectCount int
	var vizPath string
	var fontPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Allocate a demo workload and print per-class occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			h := heap.NewHeap()
			m := mutator.New(h)

			for i := 0; i < objectCount; i++ {
				size := uintptr(16 << (i % 6))
				heap.Allocate(h, m, size)
			}

			counts := map[int]int{}
			large := 0
			for _, o := range h.AllObjects() {
				if idx, ok := heap.ClassIndexOf(o.Size()); ok {
					counts[idx]++
				} else {
					large++
				}
			}
			for i := 0; i < heap.NumSizeClasses; i++ {
				if counts[i] == 0 {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "class %4d B: %d objects\n", heap.SizeClassBytes(i), counts[i])
			}
			if large > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "large objects: %d\n", large)
			}

			if vizPath != "" {
				style := heapviz.Style{FontPath: fontPath, FontSize: 12}
				if err := heapviz.WritePNG(h, style, vizPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote occupancy map to %s\n", vizPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&objectCount, "objects", 128, "number of demo objects to allocate")
	cmd.Flags().StringVar(&vizPath, "viz", "", "write a PNG occupancy map to this path")
	cmd.Flags().StringVar(&fontPath, "font", "", "TTF font file for occupancy map labels")
	return cmd
}
