package conv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrSessionMismatch reports a delta applied against the wrong session.
// This is a programmer error when raised from an internal call site; the
// store treats it as a droppable anomaly for untrusted event input.
var ErrSessionMismatch = errors.New("session id mismatch")

// Patch is a partial update to one message.
//
// Replace fields are pointers (nil = untouched). Append fields carry streaming
// fragments that concatenate onto the current value; the accumulator emits
// those, ComputeDelta never does.
type Patch struct {
	Content        *string `json:"content,omitempty"`
	AppendContent  string  `json:"append_content,omitempty"`
	Thinking       *string `json:"thinking,omitempty"`
	AppendThinking string  `json:"append_thinking,omitempty"`

	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  *string    `json:"tool_call_id,omitempty"`
	ToolSuccess *bool      `json:"tool_success,omitempty"`
	Usage       *Usage     `json:"usage,omitempty"`
	Reaction    *Reaction  `json:"reaction,omitempty"`
	Media       []MediaRef `json:"media,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	if p == nil {
		return true
	}
	return p.Content == nil && p.AppendContent == "" &&
		p.Thinking == nil && p.AppendThinking == "" &&
		p.ToolCalls == nil && p.ToolCallID == nil && p.ToolSuccess == nil &&
		p.Usage == nil && p.Reaction == nil && p.Media == nil
}

// MessageUpdate targets one existing message by id.
type MessageUpdate struct {
	ID    string `json:"id"`
	Patch Patch  `json:"patch"`
}

// PropPatch is a partial update to session-level scalar properties.
type PropPatch struct {
	Status         *Status         `json:"status,omitempty"`
	Title          *string         `json:"title,omitempty"`
	ActiveRunID    *string         `json:"active_run_id,omitempty"`
	ActiveBranchID *string         `json:"active_branch_id,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// Delta is a transactional set of changes against one session.
type Delta struct {
	SessionID string `json:"session_id"`
	AtUnixMs  int64  `json:"at_unix_ms,omitempty"`
	// Version orders deltas per session. Zero means unversioned (applied
	// without gating and without advancing the session version).
	Version uint64 `json:"version,omitempty"`

	Append    []*Message      `json:"append,omitempty"`
	Update    []MessageUpdate `json:"update,omitempty"`
	RemoveIDs []string        `json:"remove_ids,omitempty"`
	Props     *PropPatch      `json:"props,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"` // replaces the session total
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	if d == nil {
		return true
	}
	return len(d.Append) == 0 && len(d.Update) == 0 && len(d.RemoveIDs) == 0 &&
		d.Props == nil && d.Usage == nil
}

// ApplyResult is the outcome of ApplyDelta.
type ApplyResult struct {
	Session         *Session
	MessagesChanged bool
	PropsChanged    bool
}

// ComputeDelta produces the minimal delta transforming prev into next, or nil
// when the two snapshots are equal. Both snapshots must share the same id.
// Append and update ordering follows next.Messages.
func ComputeDelta(prev, next *Session) *Delta {
	if prev == nil || next == nil || prev.ID != next.ID {
		return nil
	}

	d := &Delta{SessionID: next.ID, Version: next.Version}

	prevByID := make(map[string]*Message, len(prev.Messages))
	for _, m := range prev.Messages {
		if m != nil {
			prevByID[m.ID] = m
		}
	}

	seen := make(map[string]struct{}, len(next.Messages))
	for _, nm := range next.Messages {
		if nm == nil {
			continue
		}
		seen[nm.ID] = struct{}{}
		pm, ok := prevByID[nm.ID]
		if !ok {
			d.Append = append(d.Append, nm)
			continue
		}
		if pm == nm {
			continue
		}
		if p := diffMessage(pm, nm); !p.Empty() {
			d.Update = append(d.Update, MessageUpdate{ID: nm.ID, Patch: *p})
		}
	}
	for _, pm := range prev.Messages {
		if pm == nil {
			continue
		}
		if _, ok := seen[pm.ID]; !ok {
			d.RemoveIDs = append(d.RemoveIDs, pm.ID)
		}
	}

	d.Props = diffProps(prev, next)
	if prev.Usage != next.Usage {
		u := next.Usage
		d.Usage = &u
	}

	if d.Empty() {
		return nil
	}
	return d
}

func diffProps(prev, next *Session) *PropPatch {
	var p PropPatch
	changed := false
	if prev.Status != next.Status {
		v := next.Status
		p.Status = &v
		changed = true
	}
	if prev.Title != next.Title {
		v := next.Title
		p.Title = &v
		changed = true
	}
	if prev.ActiveRunID != next.ActiveRunID {
		v := next.ActiveRunID
		p.ActiveRunID = &v
		changed = true
	}
	if prev.ActiveBranchID != next.ActiveBranchID {
		v := next.ActiveBranchID
		p.ActiveBranchID = &v
		changed = true
	}
	if !bytes.Equal(prev.Config, next.Config) {
		p.Config = next.Config
		changed = true
	}
	if !changed {
		return nil
	}
	return &p
}

// diffMessage returns a patch containing only the fields that differ.
func diffMessage(pm, nm *Message) *Patch {
	p := &Patch{}
	if pm.Content != nm.Content {
		v := nm.Content
		p.Content = &v
	}
	if pm.Thinking != nm.Thinking {
		v := nm.Thinking
		p.Thinking = &v
	}
	if !slices.Equal(pm.ToolCalls, nm.ToolCalls) {
		p.ToolCalls = nm.ToolCalls
		if p.ToolCalls == nil {
			p.ToolCalls = []ToolCall{}
		}
	}
	if pm.ToolCallID != nm.ToolCallID {
		v := nm.ToolCallID
		p.ToolCallID = &v
	}
	if !eqBoolPtr(pm.ToolSuccess, nm.ToolSuccess) {
		p.ToolSuccess = nm.ToolSuccess
	}
	if !eqUsagePtr(pm.Usage, nm.Usage) {
		p.Usage = nm.Usage
	}
	if pm.Reaction != nm.Reaction {
		v := nm.Reaction
		p.Reaction = &v
	}
	if !slices.Equal(pm.Media, nm.Media) {
		p.Media = nm.Media
		if p.Media == nil {
			p.Media = []MediaRef{}
		}
	}
	return p
}

func eqBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqUsagePtr(a, b *Usage) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ApplyDelta applies d to s and returns the resulting session snapshot.
//
// Contract:
//   - d.SessionID must match s.ID (ErrSessionMismatch otherwise).
//   - A versioned delta at or below the session version is a no-op returning
//     the input session reference untouched (duplicate suppression).
//   - Removals apply first, then updates, then appends, so a message slated
//     for both removal and re-append resolves to the appended version.
//   - When no message-level change lands, the returned session shares
//     s.Messages by reference. The subscription layer's reference-equality
//     fast path depends on this.
func ApplyDelta(s *Session, d *Delta) (ApplyResult, error) {
	if s == nil {
		return ApplyResult{}, errors.New("nil session")
	}
	if d == nil {
		return ApplyResult{Session: s}, nil
	}
	if d.SessionID != s.ID {
		return ApplyResult{}, fmt.Errorf("%w: delta=%q session=%q", ErrSessionMismatch, d.SessionID, s.ID)
	}
	if d.Version != 0 && d.Version <= s.Version {
		return ApplyResult{Session: s}, nil
	}
	if d.Empty() && d.Version == 0 {
		return ApplyResult{Session: s}, nil
	}

	ns := *s
	res := ApplyResult{}

	msgs, changed := applyMessageOps(s.Messages, d)
	if changed {
		ns.Messages = msgs
		res.MessagesChanged = true
	}

	if d.Props != nil {
		applyProps(&ns, d.Props)
		res.PropsChanged = true
	}
	if d.Usage != nil {
		ns.Usage = *d.Usage
		res.PropsChanged = true
	}
	if d.Version > ns.Version {
		ns.Version = d.Version
	}

	res.Session = &ns
	return res, nil
}

// applyMessageOps returns the new message slice and whether anything changed.
// The input slice is returned untouched (same reference) when no removal,
// update, or append takes effect.
func applyMessageOps(in []*Message, d *Delta) ([]*Message, bool) {
	if len(d.RemoveIDs) == 0 && len(d.Update) == 0 && len(d.Append) == 0 {
		return in, false
	}

	removed := make(map[string]struct{}, len(d.RemoveIDs))
	for _, id := range d.RemoveIDs {
		removed[id] = struct{}{}
	}

	updates := make(map[string]*Patch, len(d.Update))
	for i := range d.Update {
		if !d.Update[i].Patch.Empty() {
			updates[d.Update[i].ID] = &d.Update[i].Patch
		}
	}

	out := make([]*Message, 0, len(in)+len(d.Append))
	changed := false
	for _, m := range in {
		if m == nil {
			continue
		}
		if _, gone := removed[m.ID]; gone {
			changed = true
			continue
		}
		if p, ok := updates[m.ID]; ok {
			out = append(out, patchMessage(m, p))
			changed = true
			continue
		}
		out = append(out, m)
	}
	for _, m := range d.Append {
		if m == nil {
			continue
		}
		out = append(out, m)
		changed = true
	}

	if !changed {
		// Only dangling removals/updates and no appends: keep the original
		// slice reference intact.
		return in, false
	}
	return out, true
}

func patchMessage(m *Message, p *Patch) *Message {
	out := m.Clone()
	if p.Content != nil {
		out.Content = *p.Content
	}
	if p.AppendContent != "" {
		out.Content += p.AppendContent
	}
	if p.Thinking != nil {
		out.Thinking = *p.Thinking
	}
	if p.AppendThinking != "" {
		out.Thinking += p.AppendThinking
	}
	if p.ToolCalls != nil {
		out.ToolCalls = p.ToolCalls
		if len(out.ToolCalls) == 0 {
			out.ToolCalls = nil // empty patch slice clears the field
		}
	}
	if p.ToolCallID != nil {
		out.ToolCallID = *p.ToolCallID
	}
	if p.ToolSuccess != nil {
		v := *p.ToolSuccess
		out.ToolSuccess = &v
	}
	if p.Usage != nil {
		v := *p.Usage
		out.Usage = &v
	}
	if p.Reaction != nil {
		out.Reaction = *p.Reaction
	}
	if p.Media != nil {
		out.Media = p.Media
		if len(out.Media) == 0 {
			out.Media = nil
		}
	}
	return out
}

func applyProps(s *Session, p *PropPatch) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.ActiveRunID != nil {
		s.ActiveRunID = *p.ActiveRunID
	}
	if p.ActiveBranchID != nil {
		s.ActiveBranchID = *p.ActiveBranchID
	}
	if p.Config != nil {
		s.Config = p.Config
	}
}

// EstimateDeltaSize sums character lengths of the delta's textual changes.
// Used for telemetry and transport backpressure, never for correctness.
func EstimateDeltaSize(d *Delta) int {
	if d == nil {
		return 0
	}
	n := 0
	for _, m := range d.Append {
		if m == nil {
			continue
		}
		n += len(m.Content) + len(m.Thinking)
		for _, tc := range m.ToolCalls {
			n += len(tc.Arguments)
		}
	}
	for i := range d.Update {
		p := &d.Update[i].Patch
		if p.Content != nil {
			n += len(*p.Content)
		}
		n += len(p.AppendContent)
		if p.Thinking != nil {
			n += len(*p.Thinking)
		}
		n += len(p.AppendThinking)
		for _, tc := range p.ToolCalls {
			n += len(tc.Arguments)
		}
	}
	if d.Props != nil {
		if d.Props.Title != nil {
			n += len(*d.Props.Title)
		}
		n += len(d.Props.Config)
	}
	return n
}
