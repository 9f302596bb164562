// Package store owns the authoritative in-memory table of sessions plus the
// auxiliary per-run/per-session maps, mutated exclusively through Dispatch.
//
// Design notes:
//   - The state tree is immutable: every dispatch builds a new *State that
//     shares all untouched sub-objects by reference (copy-on-write at the
//     smallest changed scope). Readers take lock-free snapshots.
//   - Expected-but-anomalous input (stale delta, unknown session, invalid
//     transition) degrades to a logged no-op. Dispatch never panics across
//     its boundary: one malformed event must not take the whole UI down.
package store

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Store is the single process-wide state owner. Create one with New and pass
// it explicitly to components that need it.
type Store struct {
	log       *slog.Logger
	ringBytes int

	mu    sync.Mutex // serializes Dispatch and commit notification order
	state atomic.Pointer[State]

	lmu       sync.Mutex
	listeners map[uint64]func(*State)
	nextID    uint64
}

// Options configures a Store.
type Options struct {
	Log *slog.Logger
	// TerminalRingBytes bounds per-pid terminal history (term.DefaultRingBytes when zero).
	TerminalRingBytes int
}

// New creates an empty store. A nil logger falls back to slog.Default.
func New(opts Options) *Store {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		log:       log,
		ringBytes: opts.TerminalRingBytes,
		listeners: make(map[uint64]func(*State)),
	}
	s.state.Store(newState())
	return s
}

// State returns the current snapshot. Snapshots are immutable; callers may
// hold them for as long as they like.
func (s *Store) State() *State {
	if s == nil {
		return nil
	}
	return s.state.Load()
}

// Dispatch applies one action. No-op actions (dropped, stale, target missing)
// leave the current snapshot in place and notify nobody.
func (s *Store) Dispatch(a Action) {
	if s == nil || a == nil {
		return
	}

	s.mu.Lock()
	cur := s.state.Load()
	next := s.reduce(cur, a)
	if next == cur {
		s.mu.Unlock()
		return
	}
	s.state.Store(next)

	// Commit listeners run on the dispatching goroutine, still under the
	// dispatch lock, so snapshot delivery order matches commit order.
	// Listeners must be quick and must not dispatch.
	s.lmu.Lock()
	fns := make([]func(*State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(next)
	}
	s.mu.Unlock()
}

// OnCommit registers a listener invoked with every committed snapshot.
// The returned function unregisters it.
func (s *Store) OnCommit(fn func(*State)) (unsub func()) {
	if s == nil || fn == nil {
		return func() {}
	}
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// drop logs an expected-but-anomalous action that was ignored.
func (s *Store) drop(a Action, reason string, args ...any) {
	kv := append([]any{"action", a.actionName(), "reason", reason}, args...)
	s.log.Debug("store action dropped", kv...)
}
