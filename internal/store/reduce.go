package store

import (
	"errors"
	"strings"

	"github.com/floegence/redeven-ui/internal/conv"
	"github.com/floegence/redeven-ui/internal/term"
)

// reduce maps (state, action) to the next state. Returning the input pointer
// means "no change" and suppresses commit notification.
func (s *Store) reduce(cur *State, a Action) *State {
	switch act := a.(type) {
	case UpsertSession:
		return s.reduceUpsert(cur, act, act.Session)
	case UpsertSessions:
		next := cur
		for _, sess := range act.Sessions {
			next = s.reduceUpsert(next, act, sess)
		}
		return next
	case DeleteSession:
		return s.reduceDeleteSession(cur, act)
	case ClearSessions:
		if len(cur.Sessions) == 0 {
			return cur
		}
		return newState()
	case ApplyDelta:
		return s.reduceApplyDelta(cur, act)
	case SetStatus:
		return s.reduceSetStatus(cur, act)
	case SetTitle:
		return s.withSession(cur, act, act.SessionID, func(sess *conv.Session) *conv.Session {
			if sess.Title == act.Title {
				return sess
			}
			ns := *sess
			ns.Title = act.Title
			return &ns
		})
	case SetActiveRun:
		return s.withSession(cur, act, act.SessionID, func(sess *conv.Session) *conv.Session {
			if sess.ActiveRunID == act.RunID {
				return sess
			}
			ns := *sess
			ns.ActiveRunID = act.RunID
			return &ns
		})
	case SetConfig:
		return s.withSession(cur, act, act.SessionID, func(sess *conv.Session) *conv.Session {
			ns := *sess
			ns.Config = act.Config
			return &ns
		})
	case AddUsage:
		return s.withSession(cur, act, act.SessionID, func(sess *conv.Session) *conv.Session {
			if (act.Usage == conv.Usage{}) {
				return sess
			}
			ns := *sess
			ns.Usage = sess.Usage.Add(act.Usage)
			return &ns
		})
	case SetReaction:
		return s.reduceSetReaction(cur, act)
	case EditTruncate:
		return s.reduceEditTruncate(cur, act)
	case AddBranch:
		return s.reduceAddBranch(cur, act)
	case SwitchBranch:
		return s.reduceSwitchBranch(cur, act)
	case DeleteBranch:
		return s.reduceDeleteBranch(cur, act)
	case QueueTools:
		return s.reduceQueueTools(cur, act)
	case StartTool:
		return s.reduceStartTool(cur, act)
	case SetToolResult:
		return s.reduceSetToolResult(cur, act)
	case DequeueTool:
		return s.reduceDequeueTool(cur, act)
	case SetRouting:
		if !s.requireSession(cur, act, act.SessionID) {
			return cur
		}
		d := act.Decision
		out := *cur
		out.Routing = cloneMap(cur.Routing)
		out.Routing[act.SessionID] = &d
		return &out
	case SetTodos:
		if !s.requireSession(cur, act, act.SessionID) {
			return cur
		}
		out := *cur
		out.Todos = cloneMap(cur.Todos)
		out.Todos[act.SessionID] = act.Todos
		return &out
	case SetRunError:
		if !s.requireSession(cur, act, act.SessionID) {
			return cur
		}
		e := act.Err
		out := *cur
		out.RunErrors = cloneMap(cur.RunErrors)
		out.RunErrors[act.SessionID] = &e
		return &out
	case ClearRunError:
		if _, ok := cur.RunErrors[act.SessionID]; !ok {
			return cur
		}
		out := *cur
		out.RunErrors = deleteFromMap(cur.RunErrors, act.SessionID)
		return &out
	case AddQuestion:
		if !s.requireSession(cur, act, act.SessionID) {
			return cur
		}
		out := *cur
		out.Questions = cloneMap(cur.Questions)
		q := act.Question
		out.Questions[act.SessionID] = append(append([]*Question(nil), cur.Questions[act.SessionID]...), &q)
		return &out
	case RemoveQuestion:
		return reduceRemoveByID(s, cur, act, act.SessionID, act.QuestionID,
			cur.Questions, func(q *Question) string { return q.ID },
			func(out *State, m map[string][]*Question) { out.Questions = m })
	case AddDecision:
		if !s.requireSession(cur, act, act.SessionID) {
			return cur
		}
		out := *cur
		out.Decisions = cloneMap(cur.Decisions)
		d := act.Decision
		out.Decisions[act.SessionID] = append(append([]*Decision(nil), cur.Decisions[act.SessionID]...), &d)
		return &out
	case RemoveDecision:
		return reduceRemoveByID(s, cur, act, act.SessionID, act.DecisionID,
			cur.Decisions, func(d *Decision) string { return d.ID },
			func(out *State, m map[string][]*Decision) { out.Decisions = m })
	case AddProgress:
		if !s.requireSession(cur, act, act.SessionID) {
			return cur
		}
		out := *cur
		out.Progress = cloneMap(cur.Progress)
		p := act.Item
		out.Progress[act.SessionID] = append(append([]*ProgressItem(nil), cur.Progress[act.SessionID]...), &p)
		return &out
	case UpdateProgress:
		return s.reduceUpdateProgress(cur, act)
	case ClearProgress:
		if _, ok := cur.Progress[act.SessionID]; !ok {
			return cur
		}
		out := *cur
		out.Progress = deleteFromMap(cur.Progress, act.SessionID)
		return &out
	case SetContextWindow:
		if !s.requireSession(cur, act, act.SessionID) {
			return cur
		}
		out := *cur
		out.ContextWindows = cloneMap(cur.ContextWindows)
		out.ContextWindows[act.SessionID] = &ContextWindow{UsedTokens: act.UsedTokens, MaxTokens: act.MaxTokens}
		return &out
	case AppendTerminal:
		return s.reduceAppendTerminal(cur, act)
	case TerminalExit:
		return s.reduceTerminalExit(cur, act)
	case RemoveTerminal:
		if _, ok := cur.Terminals[act.PID]; !ok {
			return cur
		}
		out := *cur
		out.Terminals = deleteFromMap(cur.Terminals, act.PID)
		return &out
	case CleanupRun:
		return s.reduceCleanupRun(cur, act)
	case CleanupSession:
		return s.reduceCleanupSession(cur, act.SessionID)
	default:
		s.log.Warn("unhandled store action", "action", a.actionName())
		return cur
	}
}

// requireSession validates that a session-scoped aux action has a live target.
func (s *Store) requireSession(cur *State, a Action, id string) bool {
	if _, ok := cur.Sessions[strings.TrimSpace(id)]; !ok {
		s.drop(a, "unknown session", "session_id", id)
		return false
	}
	return true
}

// withSession runs fn against an existing session and swaps the result in.
// Missing sessions and unchanged results are no-ops.
func (s *Store) withSession(cur *State, a Action, id string, fn func(*conv.Session) *conv.Session) *State {
	id = strings.TrimSpace(id)
	sess := cur.Sessions[id]
	if sess == nil {
		s.drop(a, "unknown session", "session_id", id)
		return cur
	}
	ns := fn(sess)
	if ns == nil || ns == sess {
		return cur
	}
	out := *cur
	out.Sessions = cloneMap(cur.Sessions)
	out.Sessions[id] = ns
	return &out
}

func (s *Store) reduceUpsert(cur *State, a Action, sess *conv.Session) *State {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		s.drop(a, "missing session id")
		return cur
	}
	if !sess.Status.Valid() {
		ns := *sess
		ns.Status = conv.StatusIdle
		sess = &ns
	}
	out := *cur
	out.Sessions = cloneMap(cur.Sessions)
	out.Sessions[sess.ID] = sess
	return &out
}

func (s *Store) reduceDeleteSession(cur *State, a DeleteSession) *State {
	id := strings.TrimSpace(a.SessionID)
	if _, ok := cur.Sessions[id]; !ok {
		s.drop(a, "unknown session", "session_id", id)
		return cur
	}
	out := s.reduceCleanupSession(cur, id)
	next := *out
	next.Sessions = deleteFromMap(out.Sessions, id)
	return &next
}

func (s *Store) reduceApplyDelta(cur *State, a ApplyDelta) *State {
	d := a.Delta
	if d == nil {
		return cur
	}
	sess := cur.Sessions[d.SessionID]
	if sess == nil {
		// SessionMismatch: delta targets a session we do not hold.
		s.drop(a, "unknown session", "session_id", d.SessionID, "version", d.Version)
		return cur
	}
	if d.Version != 0 && d.Version <= sess.Version {
		// StaleVersion: expected under duplicated delivery, not worth a warning.
		s.drop(a, "stale version", "session_id", d.SessionID, "version", d.Version, "current", sess.Version)
		return cur
	}

	res, err := conv.ApplyDelta(sess, d)
	if err != nil {
		if errors.Is(err, conv.ErrSessionMismatch) {
			s.drop(a, "session mismatch", "session_id", d.SessionID)
		} else {
			s.log.Warn("delta apply failed", "session_id", d.SessionID, "error", err)
		}
		return cur
	}
	if res.Session == sess {
		return cur
	}

	out := *cur
	out.Sessions = cloneMap(cur.Sessions)
	out.Sessions[sess.ID] = res.Session
	return &out
}

// transitionAllowed is the session status graph: idle → running →
// (completed|error|cancelled), paused reachable from running and returning to
// it, terminal statuses accepting a new run. Same-status is a no-op.
func transitionAllowed(from, to conv.Status) bool {
	if from == to {
		return true
	}
	switch from {
	case conv.StatusIdle:
		return to == conv.StatusRunning
	case conv.StatusRunning:
		return to == conv.StatusCompleted || to == conv.StatusError ||
			to == conv.StatusCancelled || to == conv.StatusPaused
	case conv.StatusPaused:
		return to == conv.StatusRunning || to == conv.StatusCancelled
	case conv.StatusCompleted, conv.StatusError, conv.StatusCancelled:
		return to == conv.StatusRunning
	}
	return false
}

func (s *Store) reduceSetStatus(cur *State, a SetStatus) *State {
	if !a.Status.Valid() {
		s.drop(a, "invalid status", "session_id", a.SessionID, "status", string(a.Status))
		return cur
	}
	return s.withSession(cur, a, a.SessionID, func(sess *conv.Session) *conv.Session {
		if sess.Status == a.Status {
			return sess
		}
		if !transitionAllowed(sess.Status, a.Status) {
			// InvalidStateTransition: session keeps its prior status.
			s.drop(a, "invalid transition", "session_id", a.SessionID,
				"from", string(sess.Status), "to", string(a.Status))
			return sess
		}
		ns := *sess
		ns.Status = a.Status
		return &ns
	})
}

func (s *Store) reduceSetReaction(cur *State, a SetReaction) *State {
	return s.withSession(cur, a, a.SessionID, func(sess *conv.Session) *conv.Session {
		m, i := sess.MessageByID(a.MessageID)
		if m == nil {
			s.drop(a, "unknown message", "session_id", a.SessionID, "message_id", a.MessageID)
			return sess
		}
		if m.Reaction == a.Reaction {
			return sess
		}
		nm := m.Clone()
		nm.Reaction = a.Reaction
		ns := *sess
		ns.Messages = append([]*conv.Message(nil), sess.Messages...)
		ns.Messages[i] = nm
		return &ns
	})
}

func (s *Store) reduceEditTruncate(cur *State, a EditTruncate) *State {
	return s.withSession(cur, a, a.SessionID, func(sess *conv.Session) *conv.Session {
		m, i := sess.MessageByID(a.MessageID)
		if m == nil {
			s.drop(a, "unknown message", "session_id", a.SessionID, "message_id", a.MessageID)
			return sess
		}
		nm := m.Clone()
		nm.Content = a.Content
		ns := *sess
		ns.Messages = append([]*conv.Message(nil), sess.Messages[:i]...)
		ns.Messages = append(ns.Messages, nm)
		return &ns
	})
}

func (s *Store) reduceAddBranch(cur *State, a AddBranch) *State {
	return s.withSession(cur, a, a.SessionID, func(sess *conv.Session) *conv.Session {
		if strings.TrimSpace(a.Branch.ID) == "" {
			s.drop(a, "missing branch id", "session_id", a.SessionID)
			return sess
		}
		if sess.BranchByID(a.Branch.ID) != nil {
			s.drop(a, "duplicate branch", "session_id", a.SessionID, "branch_id", a.Branch.ID)
			return sess
		}
		ns := *sess
		ns.Branches = append(append([]conv.Branch(nil), sess.Branches...), a.Branch)
		return &ns
	})
}

func (s *Store) reduceSwitchBranch(cur *State, a SwitchBranch) *State {
	return s.withSession(cur, a, a.SessionID, func(sess *conv.Session) *conv.Session {
		id := strings.TrimSpace(a.BranchID)
		if id != "" && sess.BranchByID(id) == nil {
			s.drop(a, "unknown branch", "session_id", a.SessionID, "branch_id", id)
			return sess
		}
		if sess.ActiveBranchID == id {
			return sess
		}
		ns := *sess
		ns.ActiveBranchID = id
		return &ns
	})
}

func (s *Store) reduceDeleteBranch(cur *State, a DeleteBranch) *State {
	return s.withSession(cur, a, a.SessionID, func(sess *conv.Session) *conv.Session {
		id := strings.TrimSpace(a.BranchID)
		if sess.BranchByID(id) == nil {
			s.drop(a, "unknown branch", "session_id", a.SessionID, "branch_id", id)
			return sess
		}
		ns := *sess
		ns.Branches = make([]conv.Branch, 0, len(sess.Branches)-1)
		for _, b := range sess.Branches {
			if b.ID != id {
				ns.Branches = append(ns.Branches, b)
			}
		}
		kept := make([]*conv.Message, 0, len(sess.Messages))
		for _, m := range sess.Messages {
			if m != nil && m.BranchID == id {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) != len(sess.Messages) {
			ns.Messages = kept
		}
		if ns.ActiveBranchID == id {
			ns.ActiveBranchID = ""
		}
		return &ns
	})
}

func (s *Store) reduceQueueTools(cur *State, a QueueTools) *State {
	if a.RunID == "" || len(a.Tools) == 0 {
		s.drop(a, "empty queue request", "run_id", a.RunID)
		return cur
	}
	existing := cur.QueuedTools[a.RunID]
	queue := append([]*QueuedTool(nil), existing...)
	for i := range a.Tools {
		t := a.Tools[i]
		queue = append(queue, &t)
	}
	renumber(queue)

	out := *cur
	out.QueuedTools = cloneMap(cur.QueuedTools)
	out.QueuedTools[a.RunID] = queue
	return &out
}

// renumber keeps queue positions contiguous from 0 in slice order.
func renumber(queue []*QueuedTool) {
	for i, t := range queue {
		if t.QueuePosition != i {
			nt := *t
			nt.QueuePosition = i
			queue[i] = &nt
		}
	}
}

func removeQueued(queue []*QueuedTool, callID string) ([]*QueuedTool, bool) {
	idx := -1
	for i, t := range queue {
		if t != nil && t.CallID == callID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return queue, false
	}
	out := make([]*QueuedTool, 0, len(queue)-1)
	out = append(out, queue[:idx]...)
	out = append(out, queue[idx+1:]...)
	renumber(out)
	return out, true
}

func (s *Store) reduceStartTool(cur *State, a StartTool) *State {
	if a.RunID == "" || a.CallID == "" {
		s.drop(a, "missing run/call id")
		return cur
	}
	out := *cur

	if queue, ok := removeQueued(cur.QueuedTools[a.RunID], a.CallID); ok {
		out.QueuedTools = cloneMap(cur.QueuedTools)
		if len(queue) == 0 {
			delete(out.QueuedTools, a.RunID)
		} else {
			out.QueuedTools[a.RunID] = queue
		}
	}

	out.ExecutingTools = cloneMap(cur.ExecutingTools)
	inner := cloneMap(cur.ExecutingTools[a.RunID])
	inner[a.CallID] = &ExecutingTool{
		CallID:          a.CallID,
		Name:            a.Name,
		Arguments:       a.Arguments,
		StartedAtUnixMs: a.StartedAtUnixMs,
	}
	out.ExecutingTools[a.RunID] = inner
	return &out
}

func (s *Store) reduceSetToolResult(cur *State, a SetToolResult) *State {
	if a.RunID == "" || a.Result.CallID == "" {
		s.drop(a, "missing run/call id")
		return cur
	}
	out := *cur

	out.ToolResults = cloneMap(cur.ToolResults)
	inner := cloneMap(cur.ToolResults[a.RunID])
	r := a.Result
	inner[r.CallID] = &r
	out.ToolResults[a.RunID] = inner

	if exec := cur.ExecutingTools[a.RunID]; exec != nil {
		if _, ok := exec[r.CallID]; ok {
			out.ExecutingTools = cloneMap(cur.ExecutingTools)
			ni := deleteFromMap(exec, r.CallID)
			if len(ni) == 0 {
				delete(out.ExecutingTools, a.RunID)
			} else {
				out.ExecutingTools[a.RunID] = ni
			}
		}
	}
	return &out
}

func (s *Store) reduceDequeueTool(cur *State, a DequeueTool) *State {
	queue, ok := removeQueued(cur.QueuedTools[a.RunID], a.CallID)
	if !ok {
		s.drop(a, "tool not queued", "run_id", a.RunID, "call_id", a.CallID)
		return cur
	}
	out := *cur
	out.QueuedTools = cloneMap(cur.QueuedTools)
	if len(queue) == 0 {
		delete(out.QueuedTools, a.RunID)
	} else {
		out.QueuedTools[a.RunID] = queue
	}
	return &out
}

func (s *Store) reduceUpdateProgress(cur *State, a UpdateProgress) *State {
	items := cur.Progress[a.SessionID]
	idx := -1
	for i, it := range items {
		if it != nil && it.ID == a.Item.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.drop(a, "unknown progress item", "session_id", a.SessionID, "id", a.Item.ID)
		return cur
	}
	out := *cur
	out.Progress = cloneMap(cur.Progress)
	ni := append([]*ProgressItem(nil), items...)
	p := a.Item
	ni[idx] = &p
	out.Progress[a.SessionID] = ni
	return &out
}

func (s *Store) reduceAppendTerminal(cur *State, a AppendTerminal) *State {
	if a.PID <= 0 || len(a.Data) == 0 {
		s.drop(a, "empty terminal append", "pid", a.PID)
		return cur
	}
	prev := cur.Terminals[a.PID]
	ring := (*term.Ring)(nil)
	seq := uint64(0)
	var exit *int
	if prev != nil {
		ring = prev.Ring
		seq = prev.Seq
		exit = prev.ExitCode
	}
	if ring == nil {
		ring = term.NewRing(s.ringBytes)
	}
	_, _ = ring.Write(a.Data)

	out := *cur
	out.Terminals = cloneMap(cur.Terminals)
	out.Terminals[a.PID] = &TerminalStream{PID: a.PID, Ring: ring, Seq: seq + 1, ExitCode: exit}
	return &out
}

func (s *Store) reduceTerminalExit(cur *State, a TerminalExit) *State {
	prev := cur.Terminals[a.PID]
	if prev == nil {
		s.drop(a, "unknown terminal", "pid", a.PID)
		return cur
	}
	code := a.Code
	out := *cur
	out.Terminals = cloneMap(cur.Terminals)
	out.Terminals[a.PID] = &TerminalStream{PID: a.PID, Ring: prev.Ring, Seq: prev.Seq + 1, ExitCode: &code}
	return &out
}

func (s *Store) reduceCleanupRun(cur *State, a CleanupRun) *State {
	runID := strings.TrimSpace(a.RunID)
	if runID == "" {
		return cur
	}
	out := *cur
	changed := false

	if _, ok := cur.ToolResults[runID]; ok {
		out.ToolResults = deleteFromMap(cur.ToolResults, runID)
		changed = true
	}
	if _, ok := cur.QueuedTools[runID]; ok {
		out.QueuedTools = deleteFromMap(cur.QueuedTools, runID)
		changed = true
	}
	if _, ok := cur.ExecutingTools[runID]; ok {
		out.ExecutingTools = deleteFromMap(cur.ExecutingTools, runID)
		changed = true
	}

	if m, ch := dropRunScoped(cur.Questions, runID, func(q *Question) string { return q.RunID }); ch {
		out.Questions = m
		changed = true
	}
	if m, ch := dropRunScoped(cur.Decisions, runID, func(d *Decision) string { return d.RunID }); ch {
		out.Decisions = m
		changed = true
	}
	if m, ch := dropRunScoped(cur.Progress, runID, func(p *ProgressItem) string { return p.RunID }); ch {
		out.Progress = m
		changed = true
	}

	if !changed {
		return cur
	}
	return &out
}

func (s *Store) reduceCleanupSession(cur *State, sessionID string) *State {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return cur
	}
	out := *cur
	changed := false

	if _, ok := cur.Routing[id]; ok {
		out.Routing = deleteFromMap(cur.Routing, id)
		changed = true
	}
	if _, ok := cur.Todos[id]; ok {
		out.Todos = deleteFromMap(cur.Todos, id)
		changed = true
	}
	if _, ok := cur.RunErrors[id]; ok {
		out.RunErrors = deleteFromMap(cur.RunErrors, id)
		changed = true
	}
	if _, ok := cur.Questions[id]; ok {
		out.Questions = deleteFromMap(cur.Questions, id)
		changed = true
	}
	if _, ok := cur.Decisions[id]; ok {
		out.Decisions = deleteFromMap(cur.Decisions, id)
		changed = true
	}
	if _, ok := cur.Progress[id]; ok {
		out.Progress = deleteFromMap(cur.Progress, id)
		changed = true
	}
	if _, ok := cur.ContextWindows[id]; ok {
		out.ContextWindows = deleteFromMap(cur.ContextWindows, id)
		changed = true
	}

	if !changed {
		return cur
	}
	return &out
}

// dropRunScoped filters run-tagged entries out of a session-keyed list map.
func dropRunScoped[T any](m map[string][]*T, runID string, key func(*T) string) (map[string][]*T, bool) {
	var out map[string][]*T
	for sessionID, items := range m {
		keep := items[:0:0]
		for _, it := range items {
			if it != nil && key(it) == runID {
				continue
			}
			keep = append(keep, it)
		}
		if len(keep) == len(items) {
			continue
		}
		if out == nil {
			out = cloneMap(m)
		}
		if len(keep) == 0 {
			delete(out, sessionID)
		} else {
			out[sessionID] = keep
		}
	}
	if out == nil {
		return m, false
	}
	return out, true
}

// reduceRemoveByID removes one id-keyed entry from a session-keyed list map.
func reduceRemoveByID[T any](s *Store, cur *State, a Action, sessionID, id string,
	m map[string][]*T, key func(*T) string, assign func(*State, map[string][]*T)) *State {

	items := m[sessionID]
	idx := -1
	for i, it := range items {
		if it != nil && key(it) == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.drop(a, "unknown entry", "session_id", sessionID, "id", id)
		return cur
	}

	out := *cur
	nm := cloneMap(m)
	ni := make([]*T, 0, len(items)-1)
	ni = append(ni, items[:idx]...)
	ni = append(ni, items[idx+1:]...)
	if len(ni) == 0 {
		delete(nm, sessionID)
	} else {
		nm[sessionID] = ni
	}
	assign(&out, nm)
	return &out
}
