// Command capgc is a demonstration CLI over the capgc runtime: it drives
// end-to-end allocation/collection scenarios and reports heap occupancy,
// standing in for the teacher's kernel-side `schedtrace_monitor.go`/
// `gc_monitor.go` periodic dumps (mazboot/golang/main), here invoked
// on demand instead of from a timer interrupt.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
