// Package watch layers selective subscriptions over store commits. A watcher
// observes one selected slice of the state tree and is woken only when its
// selection actually changed, judged by a caller-supplied equality function.
// Because the state tree shares untouched sub-objects by reference, reference
// equality is a correct and cheap change test for most selections.
package watch

import (
	"log/slog"
	"sync"

	"github.com/floegence/redeven-ui/internal/store"
)

// Hub fans store commits out to registered watchers. Create one per store.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	pushers map[uint64]func(*store.State)
	nextID  uint64
	closed  bool

	unsub func()
}

// NewHub attaches a hub to the store's commit stream.
func NewHub(st *store.Store, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:     log,
		pushers: make(map[uint64]func(*store.State)),
	}
	h.unsub = st.OnCommit(h.push)
	return h
}

func (h *Hub) push(st *store.State) {
	h.mu.Lock()
	fns := make([]func(*store.State), 0, len(h.pushers))
	for _, fn := range h.pushers {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Close detaches the hub from the store. Registered watchers stop receiving
// updates; their channels stay open so late receives drain cleanly.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.unsub()
}

func (h *Hub) register(fn func(*store.State)) (id uint64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, false
	}
	id = h.nextID
	h.nextID++
	h.pushers[id] = fn
	return id, true
}

func (h *Hub) unregister(id uint64) {
	h.mu.Lock()
	delete(h.pushers, id)
	h.mu.Unlock()
}

// Watcher delivers successive values of one selection. The channel has
// capacity one and keeps only the newest value: a slow consumer observes the
// latest state, never a stale intermediate frame.
type Watcher[T any] struct {
	ch chan T

	mu   sync.Mutex
	last T

	closeOnce sync.Once
	cancel    func()
}

// Register creates a watcher for sel's selection. The current value is
// delivered immediately; afterwards a value is delivered only when eq reports
// it differs from the previously delivered one. sel and eq run on the
// dispatching goroutine and must be fast and side-effect free.
func Register[T any](h *Hub, st *store.Store, sel func(*store.State) T, eq func(a, b T) bool) *Watcher[T] {
	w := &Watcher[T]{
		ch:     make(chan T, 1),
		cancel: func() {},
	}

	w.last = sel(st.State())
	w.send(w.last)

	id, ok := h.register(func(snap *store.State) {
		next := sel(snap)
		w.mu.Lock()
		changed := !eq(w.last, next)
		if changed {
			w.last = next
		}
		w.mu.Unlock()
		if changed {
			w.send(next)
		}
	})
	if ok {
		w.cancel = func() { h.unregister(id) }
		// A commit between the initial snapshot read and registration reaches
		// no pusher; re-evaluate so that window cannot strand a stale value.
		next := sel(st.State())
		w.mu.Lock()
		changed := !eq(w.last, next)
		if changed {
			w.last = next
		}
		w.mu.Unlock()
		if changed {
			w.send(next)
		}
	}
	return w
}

// send replaces any undelivered value with v. Producers are serialized by the
// store's dispatch lock, so drain-then-send cannot lose the newest value.
func (w *Watcher[T]) send(v T) {
	for {
		select {
		case w.ch <- v:
			return
		default:
			select {
			case <-w.ch:
			default:
			}
		}
	}
}

// C is the delivery channel. It is never closed; Close only stops new sends.
func (w *Watcher[T]) C() <-chan T {
	return w.ch
}

// Close detaches the watcher from the hub.
func (w *Watcher[T]) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(w.cancel)
}

// Same reports plain comparable equality. For pointer selections this is the
// reference test the copy-on-write tree is built for.
func Same[T comparable](a, b T) bool { return a == b }

// SameRefs reports element-wise comparable equality of two slices, treating
// only identical length plus identical elements as unchanged.
func SameRefs[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
