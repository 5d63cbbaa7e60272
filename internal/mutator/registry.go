package mutator

import (
	"sync"
	"sync/atomic"
)

// Registry tracks every live mutator so the collector can address "all
// mutators" without each one having to discover its peers, grounded on the
// teacher's goroutine run-queue registry in goroutine.go.
type Registry struct {
	mu        sync.Mutex
	nextID    uint64
	mutators  map[uint64]*Mutator
	stopCount atomic.Int32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{mutators: make(map[uint64]*Mutator)}
}

// DefaultRegistry is the process-wide registry used by Mutator.Register and
// the package-level SoftHandshake/StopTheWorld/ResumeTheWorld helpers.
var DefaultRegistry = NewRegistry()

func (r *Registry) register(m *Mutator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	m.id = r.nextID
	r.mutators[m.id] = m
}

func (r *Registry) unregister(m *Mutator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mutators, m.id)
}

func (r *Registry) snapshot() []*Mutator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Mutator, 0, len(r.mutators))
	for _, m := range r.mutators {
		out = append(out, m)
	}
	return out
}

// SoftHandshake runs cb against every registered mutator, per spec.md
// §3.4/§4.D: for a mutator already parked (not ENTERED), cb runs immediately
// on the calling goroutine, since that mutator cannot be touching the arena;
// a mutator currently ENTERED runs cb on its own goroutine the next time it
// reaches a Pollcheck, Exit or Enter. Blocks until every mutator has run cb.
func (r *Registry) SoftHandshake(cb func(*Mutator)) {
	mutators := r.snapshot()
	var wg sync.WaitGroup
	for _, m := range mutators {
		m := m
		// Hold enterMu across the IsEntered check and the inline cb call so
		// a concurrent Enter() can never slip between "observed not
		// entered" and "ran cb against this mutator's frames": Enter()
		// takes the same lock before transitioning to ENTERED, so it
		// either completes before this check runs or blocks until cb (and
		// any frame reads it does) has finished.
		m.enterMu.Lock()
		if !m.IsEntered() {
			cb(m)
			m.enterMu.Unlock()
			continue
		}
		done := make(chan struct{})
		m.pendingHandshake.Store(&handshakeRequest{cb: cb, done: done})
		m.setBit(StateCheckRequested)
		m.enterMu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}
	wg.Wait()
}

// StopTheWorld requests every mutator park at its next Pollcheck (or
// immediately, if already parked) and stay parked until ResumeTheWorld.
// Refcounted: nested calls from e.g. a handshake running inside another
// stop are safe, and the world only actually resumes once every caller has
// called ResumeTheWorld.
func (r *Registry) StopTheWorld() {
	if r.stopCount.Add(1) == 1 {
		r.SoftHandshake(func(m *Mutator) { m.setBit(StateStopRequested) })
	}
}

// ResumeTheWorld releases one StopTheWorld reference, waking every parked
// mutator once the count reaches zero.
func (r *Registry) ResumeTheWorld() {
	if r.stopCount.Add(-1) == 0 {
		for _, m := range r.snapshot() {
			m.mu.Lock()
			m.clearBit(StateStopRequested)
			m.cond.Broadcast()
			m.mu.Unlock()
		}
	}
}

// SoftHandshake runs cb on every mutator registered with DefaultRegistry.
func SoftHandshake(cb func(*Mutator)) { DefaultRegistry.SoftHandshake(cb) }

// StopTheWorld pauses every mutator registered with DefaultRegistry.
func StopTheWorld() { DefaultRegistry.StopTheWorld() }

// ResumeTheWorld resumes every mutator registered with DefaultRegistry.
func ResumeTheWorld() { DefaultRegistry.ResumeTheWorld() }
