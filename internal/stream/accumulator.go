// Package stream coalesces high-frequency token/thinking fragments into
// periodic batched session deltas, bounding how often downstream state and
// rendering work runs while the agent is generating.
package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/floegence/redeven-ui/internal/conv"
)

// DefaultInterval targets one flush per animation frame.
const DefaultInterval = 16 * time.Millisecond

// FlushFunc receives the coalesced delta for one session.
type FlushFunc func(sessionID string, d *conv.Delta)

// Accumulator buffers streaming fragments per message id and flushes them on
// a debounced cadence. One instance serves one actively streaming session.
//
// Flushed deltas are unversioned: the per-session version number space belongs
// to the host, and a locally minted version would race host deltas through the
// store's stale gate in both directions. Each fragment is buffered once and
// drained once, so unversioned application stays idempotent.
//
// Appends arm the flush timer; Flush and Clear disarm it. All methods are
// safe for concurrent use.
type Accumulator struct {
	sessionID string
	interval  time.Duration
	flush     FlushFunc

	mu       sync.Mutex
	content  map[string]*strings.Builder
	thinking map[string]*strings.Builder
	order    []string // message ids in first-touch order, for deterministic flushes
	timer    *time.Timer
}

// New creates an accumulator for one session. A non-positive interval falls
// back to DefaultInterval.
func New(sessionID string, interval time.Duration, flush FlushFunc) *Accumulator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Accumulator{
		sessionID: sessionID,
		interval:  interval,
		flush:     flush,
		content:   make(map[string]*strings.Builder),
		thinking:  make(map[string]*strings.Builder),
	}
}

// SessionID returns the session this accumulator feeds.
func (a *Accumulator) SessionID() string {
	if a == nil {
		return ""
	}
	return a.sessionID
}

// AppendContent buffers a content fragment for the given message.
func (a *Accumulator) AppendContent(messageID string, fragment string) {
	a.append(messageID, fragment, false)
}

// AppendThinking buffers a thinking fragment for the given message.
func (a *Accumulator) AppendThinking(messageID string, fragment string) {
	a.append(messageID, fragment, true)
}

func (a *Accumulator) append(messageID string, fragment string, thinking bool) {
	if a == nil || messageID == "" || fragment == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bufs := a.content
	if thinking {
		bufs = a.thinking
	}
	b := bufs[messageID]
	if b == nil {
		b = &strings.Builder{}
		bufs[messageID] = b
		if !a.tracked(messageID) {
			a.order = append(a.order, messageID)
		}
	}
	b.WriteString(fragment)

	if a.timer == nil {
		a.timer = time.AfterFunc(a.interval, func() { a.Flush() })
	}
}

func (a *Accumulator) tracked(messageID string) bool {
	for _, id := range a.order {
		if id == messageID {
			return true
		}
	}
	return false
}

// Flush drains the buffers into one delta and hands it to the flush callback.
// Returns false (and emits nothing) when both buffers are empty.
func (a *Accumulator) Flush() bool {
	if a == nil {
		return false
	}

	a.mu.Lock()
	if len(a.content) == 0 && len(a.thinking) == 0 {
		a.disarmLocked()
		a.mu.Unlock()
		return false
	}

	updates := make([]conv.MessageUpdate, 0, len(a.order))
	for _, id := range a.order {
		p := conv.Patch{}
		if b := a.content[id]; b != nil {
			p.AppendContent = b.String()
		}
		if b := a.thinking[id]; b != nil {
			p.AppendThinking = b.String()
		}
		if p.Empty() {
			continue
		}
		updates = append(updates, conv.MessageUpdate{ID: id, Patch: p})
	}

	d := &conv.Delta{
		SessionID: a.sessionID,
		AtUnixMs:  time.Now().UnixMilli(),
		Update:    updates,
	}

	a.content = make(map[string]*strings.Builder)
	a.thinking = make(map[string]*strings.Builder)
	a.order = a.order[:0]
	a.disarmLocked()
	flush := a.flush
	a.mu.Unlock()

	// Deliver outside the lock so the callback may append for the next tick.
	if flush != nil {
		flush(d.SessionID, d)
	}
	return true
}

// Clear cancels any armed timer and drops buffered fragments without
// flushing. Used on session teardown and run cancellation so a late flush
// cannot resurrect removed state.
func (a *Accumulator) Clear() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content = make(map[string]*strings.Builder)
	a.thinking = make(map[string]*strings.Builder)
	a.order = a.order[:0]
	a.disarmLocked()
}

func (a *Accumulator) disarmLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
