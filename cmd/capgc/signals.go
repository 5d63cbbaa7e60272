package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/iansmith/capgc/internal/mutator"
	"github.com/iansmith/capgc/internal/rtlog"
)

var signalLog = rtlog.Named("signal")

// forwardSignals starts forwarding SIGINT/SIGTERM into m.DeferSignal instead
// of letting Go's default disposition tear the process down immediately,
// per mutator.DeferSignal's contract that "all signals will be deferred to
// pollchecks", and installs the handler that actually runs once m's next
// pollcheck drains one. The returned stop func cancels the forwarding
// goroutine and removes the handlers.
func forwardSignals(m *mutator.Mutator) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	mutator.RegisterSignalHandler(int(syscall.SIGINT), shutdownOnSignal)
	mutator.RegisterSignalHandler(int(syscall.SIGTERM), shutdownOnSignal)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				signalLog.Infow("deferring signal to next pollcheck", "signal", sig.String())
				m.DeferSignal(int(sig.(syscall.Signal)))
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
		mutator.UnregisterSignalHandler(int(syscall.SIGINT))
		mutator.UnregisterSignalHandler(int(syscall.SIGTERM))
	}
}

// shutdownOnSignal is the handler run from inside a mutator's pollcheck once
// it drains a forwarded SIGINT/SIGTERM, per spec.md §4.D/§4.G "invoke
// pending signal handlers".
func shutdownOnSignal(sig int) {
	s := syscall.Signal(sig)
	signalLog.Infow("shutting down on deferred signal", "signal", s.String())
	os.Exit(128 + int(s))
}
