package mutator

import "sync"

// SignalHandler is invoked with a signal number once a mutator's pollcheck
// has drained it from its deferred list, per spec.md §4.D/§4.G "invoke
// pending signal handlers". Registration is process-wide rather than
// per-mutator, matching POSIX's own per-signal disposition table: whichever
// mutator's pollcheck happens to drain a forwarded signal first runs the
// same handler any other mutator would have.
type SignalHandler func(sig int)

var (
	signalHandlersMu sync.Mutex
	signalHandlers   = map[int]SignalHandler{}
)

// RegisterSignalHandler installs h as the handler for sig, replacing any
// previously registered handler.
func RegisterSignalHandler(sig int, h SignalHandler) {
	signalHandlersMu.Lock()
	signalHandlers[sig] = h
	signalHandlersMu.Unlock()
}

// UnregisterSignalHandler removes sig's handler, if any.
func UnregisterSignalHandler(sig int) {
	signalHandlersMu.Lock()
	delete(signalHandlers, sig)
	signalHandlersMu.Unlock()
}

func dispatchSignal(sig int) {
	signalHandlersMu.Lock()
	h := signalHandlers[sig]
	signalHandlersMu.Unlock()
	if h != nil {
		h(sig)
	}
}

// DeferSignal records that signal sig arrived while this mutator could not
// safely handle it (outside a pollcheck-safe point), per spec.md §4.D/§4.G
// "all signals will be deferred to pollchecks". The bare-metal teacher has
// no POSIX signals to defer; this is grounded directly on spec.md and wired
// to Go's os/signal notification channel by the cmd/capgc CLI, which
// forwards caught signals into DeferSignal instead of handling them inline.
func (m *Mutator) DeferSignal(sig int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferredSignals = append(m.deferredSignals, sig)
	m.setBit(StateDeferredSignal)
}

// EnterSignalDeferral increments the deferral depth. The depth is saved and
// restored by sigsetjmp-style jmp_bufs; DeferSignal and the pollcheck drain
// do not consult it.
func (m *Mutator) EnterSignalDeferral() {
	m.mu.Lock()
	m.signalDeferralDepth++
	m.mu.Unlock()
}

// ExitSignalDeferral decrements the deferral depth.
func (m *Mutator) ExitSignalDeferral() {
	m.mu.Lock()
	m.signalDeferralDepth--
	m.mu.Unlock()
}

// runDeferredSignals drains every signal deferred since the last call,
// clearing StateDeferredSignal, and invokes each one's registered
// SignalHandler (if any) now that it is safe to do so. Called from
// Pollcheck's slow path so deferred work always resumes at a safe point.
// Returns the drained signals for callers that also want to observe them.
func (m *Mutator) runDeferredSignals() []int {
	m.mu.Lock()
	if len(m.deferredSignals) == 0 {
		m.mu.Unlock()
		return nil
	}
	drained := m.deferredSignals
	m.deferredSignals = nil
	m.clearBit(StateDeferredSignal)
	m.mu.Unlock()

	for _, sig := range drained {
		dispatchSignal(sig)
	}
	return drained
}

// RunDeferredSignals is the exported form, for callers that want to flush
// outside a Pollcheck.
func (m *Mutator) RunDeferredSignals() []int { return m.runDeferredSignals() }

// SignalDeferralDepth returns the current deferral nesting depth, for
// sigsetjmp's signal-mask save/restore (jmpbuf.Create/LongJmp).
func (m *Mutator) SignalDeferralDepth() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signalDeferralDepth
}

// SetSignalDeferralDepth restores a previously saved deferral depth.
func (m *Mutator) SetSignalDeferralDepth(depth int32) {
	m.mu.Lock()
	m.signalDeferralDepth = depth
	m.mu.Unlock()
}
