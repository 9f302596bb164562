package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	rpcwirev1 "github.com/floegence/flowersec/flowersec-go/gen/flowersec/rpc/v1"
	"github.com/floegence/flowersec/flowersec-go/rpc"
	"golang.org/x/time/rate"

	"github.com/floegence/redeven-ui/internal/conv"
	"github.com/floegence/redeven-ui/internal/store"
	"github.com/floegence/redeven-ui/internal/stream"
)

// Options configures a Bridge.
type Options struct {
	Log   *slog.Logger
	Store *store.Store
	// FlushInterval overrides the accumulator cadence (stream.DefaultInterval
	// when zero).
	FlushInterval time.Duration
}

// Bridge decodes inbound host notifications into store actions and owns the
// per-session streaming accumulators.
type Bridge struct {
	log   *slog.Logger
	store *store.Store
	accs  *accRegistry

	// Malformed payloads from a misbehaving host can arrive at token rate;
	// the limiter keeps the log readable while still recording the problem.
	badPayloadLog *rate.Limiter
}

// New creates a bridge bound to one store.
func New(opts Options) *Bridge {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		log:           log,
		store:         opts.Store,
		badPayloadLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	b.accs = newAccRegistry(opts.Store, opts.FlushInterval)
	return b
}

// Close clears all pending accumulator buffers without flushing.
func (b *Bridge) Close() {
	b.accs.clearAll()
}

// Register wires every inbound notification type onto the router. All
// handlers are notifies: the host never waits on state ingestion.
func (b *Bridge) Register(r *rpc.Router) {
	if b == nil || r == nil {
		return
	}

	notify(b, r, TypeID_UI_SESSION_UPSERT, b.onSessionUpsert)
	notify(b, r, TypeID_UI_SESSION_DELETE, b.onSessionDelete)
	notify(b, r, TypeID_UI_SESSION_DELTA, b.onSessionDelta)
	notify(b, r, TypeID_UI_STREAM_DELTA, b.onStreamDelta)
	notify(b, r, TypeID_UI_THINKING_DELTA, b.onThinkingDelta)
	notify(b, r, TypeID_UI_RUN_STATUS, b.onRunStatus)

	notify(b, r, TypeID_UI_TOOL_QUEUED, func(p *toolQueuedPayload) {
		b.store.Dispatch(store.QueueTools{RunID: strings.TrimSpace(p.RunID), Tools: p.Tools})
	})
	notify(b, r, TypeID_UI_TOOL_STARTED, func(p *toolStartedPayload) {
		b.store.Dispatch(store.StartTool{
			RunID:           strings.TrimSpace(p.RunID),
			CallID:          strings.TrimSpace(p.CallID),
			Name:            p.Name,
			Arguments:       p.Arguments,
			StartedAtUnixMs: time.Now().UnixMilli(),
		})
	})
	notify(b, r, TypeID_UI_TOOL_RESULT, func(p *toolResultPayload) {
		b.store.Dispatch(store.SetToolResult{
			RunID: strings.TrimSpace(p.RunID),
			Result: store.ToolResult{
				CallID:   strings.TrimSpace(p.CallID),
				ToolName: p.ToolName,
				Success:  p.Result.Success,
				Output:   p.Result.Output,
				Metadata: p.Result.Metadata,
			},
		})
	})

	notify(b, r, TypeID_UI_ROUTING, func(p *routingPayload) {
		d := p.Decision
		if d.AtUnixMs == 0 {
			d.AtUnixMs = p.AtUnixMs
		}
		b.store.Dispatch(store.SetRouting{SessionID: strings.TrimSpace(p.SessionID), Decision: d})
	})
	notify(b, r, TypeID_UI_QUESTION_ADD, func(p *questionAddPayload) {
		b.store.Dispatch(store.AddQuestion{SessionID: strings.TrimSpace(p.SessionID), Question: p.Question})
	})
	notify(b, r, TypeID_UI_QUESTION_REMOVE, func(p *questionRemovePayload) {
		b.store.Dispatch(store.RemoveQuestion{SessionID: strings.TrimSpace(p.SessionID), QuestionID: p.QuestionID})
	})
	notify(b, r, TypeID_UI_DECISION_ADD, func(p *decisionAddPayload) {
		b.store.Dispatch(store.AddDecision{SessionID: strings.TrimSpace(p.SessionID), Decision: p.Decision})
	})
	notify(b, r, TypeID_UI_DECISION_REMOVE, func(p *decisionRemovePayload) {
		b.store.Dispatch(store.RemoveDecision{SessionID: strings.TrimSpace(p.SessionID), DecisionID: p.DecisionID})
	})
	notify(b, r, TypeID_UI_PROGRESS_ADD, func(p *progressPayload) {
		b.store.Dispatch(store.AddProgress{SessionID: strings.TrimSpace(p.SessionID), Item: p.Item})
	})
	notify(b, r, TypeID_UI_PROGRESS_UPDATE, func(p *progressPayload) {
		b.store.Dispatch(store.UpdateProgress{SessionID: strings.TrimSpace(p.SessionID), Item: p.Item})
	})
	notify(b, r, TypeID_UI_PROGRESS_CLEAR, func(p *progressClearPayload) {
		b.store.Dispatch(store.ClearProgress{SessionID: strings.TrimSpace(p.SessionID)})
	})
	notify(b, r, TypeID_UI_TODOS, func(p *todosPayload) {
		b.store.Dispatch(store.SetTodos{SessionID: strings.TrimSpace(p.SessionID), Todos: p.Todos})
	})
	notify(b, r, TypeID_UI_RUN_ERROR, func(p *runErrorPayload) {
		b.store.Dispatch(store.SetRunError{SessionID: strings.TrimSpace(p.SessionID), Err: p.Err})
	})
	notify(b, r, TypeID_UI_RUN_ERROR_CLEAR, func(p *runErrorClearPayload) {
		b.store.Dispatch(store.ClearRunError{SessionID: strings.TrimSpace(p.SessionID)})
	})
	notify(b, r, TypeID_UI_CONTEXT_WINDOW, func(p *contextWindowPayload) {
		b.store.Dispatch(store.SetContextWindow{
			SessionID:  strings.TrimSpace(p.SessionID),
			UsedTokens: p.UsedTokens,
			MaxTokens:  p.MaxTokens,
		})
	})

	notify(b, r, TypeID_UI_TERMINAL_OUTPUT, b.onTerminalOutput)
	notify(b, r, TypeID_UI_TERMINAL_EXIT, func(p *terminalExitPayload) {
		b.store.Dispatch(store.TerminalExit{PID: p.PID, Code: p.Code})
	})
}

// notify registers one decoded notify handler. Decode failures are dropped
// with a throttled log and a wire error for the host's diagnostics.
func notify[T any](b *Bridge, r *rpc.Router, typeID uint32, handle func(*T)) {
	r.Register(typeID, func(_ context.Context, payload json.RawMessage) (json.RawMessage, *rpcwirev1.RpcError) {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			if b.badPayloadLog.Allow() {
				b.log.Warn("dropping malformed host event", "type_id", typeID, "error", err)
			}
			return nil, rpc.ToWireError(&rpc.Error{Code: 400, Message: "invalid payload"})
		}
		handle(&msg)
		return nil, nil
	})
}

func (b *Bridge) onSessionUpsert(p *sessionUpsertPayload) {
	if p.Session == nil || strings.TrimSpace(p.Session.ID) == "" {
		if b.badPayloadLog.Allow() {
			b.log.Warn("dropping session upsert without session id")
		}
		return
	}
	// A re-upsert replaces the session wholesale; buffered fragments refer to
	// the old content and must not survive it.
	b.accs.clear(p.Session.ID)
	b.store.Dispatch(store.UpsertSession{Session: p.Session})
}

func (b *Bridge) onSessionDelete(p *sessionDeletePayload) {
	id := strings.TrimSpace(p.SessionID)
	b.accs.clear(id)
	// DeleteSession purges session-scoped aux state itself; one commit per
	// deletion keeps watchers from observing a half-deleted session.
	b.store.Dispatch(store.DeleteSession{SessionID: id})
}

func (b *Bridge) onSessionDelta(p *sessionDeltaPayload) {
	if p.Delta == nil {
		if b.badPayloadLog.Allow() {
			b.log.Warn("dropping empty session delta")
		}
		return
	}
	// A full delta from the host supersedes locally buffered fragments for
	// the same session; flush first so ordering is preserved.
	b.accs.flush(p.Delta.SessionID)
	b.store.Dispatch(store.ApplyDelta{Delta: p.Delta})
}

func (b *Bridge) onStreamDelta(p *streamDeltaPayload) {
	sessionID := strings.TrimSpace(p.SessionID)
	messageID := strings.TrimSpace(p.MessageID)
	if sessionID == "" || messageID == "" {
		if b.badPayloadLog.Allow() {
			b.log.Warn("dropping stream delta without target", "session_id", sessionID)
		}
		return
	}
	if p.ToolCall != nil {
		// Tool call fragments bypass accumulation: they are rare relative to
		// token deltas and must render as soon as the call is known.
		b.accs.flush(sessionID)
		b.dispatchToolCallFragment(sessionID, messageID, p.ToolCall)
		return
	}
	if p.Delta == "" {
		return
	}
	acc := b.accs.forSession(sessionID)
	if acc == nil {
		if b.badPayloadLog.Allow() {
			b.log.Warn("dropping stream delta for unknown session", "session_id", sessionID)
		}
		return
	}
	acc.AppendContent(messageID, p.Delta)
}

func (b *Bridge) onThinkingDelta(p *thinkingDeltaPayload) {
	sessionID := strings.TrimSpace(p.SessionID)
	messageID := strings.TrimSpace(p.MessageID)
	if sessionID == "" || messageID == "" || p.Delta == "" {
		return
	}
	acc := b.accs.forSession(sessionID)
	if acc == nil {
		if b.badPayloadLog.Allow() {
			b.log.Warn("dropping thinking delta for unknown session", "session_id", sessionID)
		}
		return
	}
	acc.AppendThinking(messageID, p.Delta)
}

func (b *Bridge) dispatchToolCallFragment(sessionID, messageID string, tc *toolCallFragment) {
	cur := b.store.State().Session(sessionID)
	if cur == nil {
		return
	}
	msg, _ := cur.MessageByID(messageID)
	if msg == nil {
		return
	}
	calls := make([]conv.ToolCall, 0, len(msg.ToolCalls)+1)
	replaced := false
	for _, c := range msg.ToolCalls {
		if c.CallID == tc.CallID {
			c.Name = firstNonEmpty(tc.Name, c.Name)
			c.Arguments = c.Arguments + tc.Arguments
			replaced = true
		}
		calls = append(calls, c)
	}
	if !replaced {
		calls = append(calls, conv.ToolCall{CallID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments})
	}
	// Unversioned like accumulator flushes: the host owns the session version
	// space, and the rebuilt ToolCalls slice is a full replacement either way.
	b.store.Dispatch(store.ApplyDelta{Delta: &conv.Delta{
		SessionID: sessionID,
		AtUnixMs:  time.Now().UnixMilli(),
		Update:    []conv.MessageUpdate{{ID: messageID, Patch: conv.Patch{ToolCalls: calls}}},
	}})
}

func (b *Bridge) onRunStatus(p *runStatusPayload) {
	sessionID := strings.TrimSpace(p.SessionID)
	runID := strings.TrimSpace(p.RunID)

	switch p.Status {
	case conv.StatusCancelled:
		// Cancellation drops buffered fragments; a flush arriving later finds
		// its buffers empty and does nothing.
		b.accs.clear(sessionID)
	case conv.StatusCompleted, conv.StatusError:
		b.accs.flush(sessionID)
	}

	b.store.Dispatch(store.SetStatus{SessionID: sessionID, Status: p.Status})
	switch p.Status {
	case conv.StatusRunning:
		b.store.Dispatch(store.SetActiveRun{SessionID: sessionID, RunID: runID})
	case conv.StatusCompleted, conv.StatusError, conv.StatusCancelled:
		b.store.Dispatch(store.SetActiveRun{SessionID: sessionID, RunID: ""})
		if runID != "" {
			b.store.Dispatch(store.CleanupRun{RunID: runID})
		}
	}
}

func (b *Bridge) onTerminalOutput(p *terminalOutputPayload) {
	data, err := base64.StdEncoding.DecodeString(p.DataB64)
	if err != nil {
		if b.badPayloadLog.Allow() {
			b.log.Warn("dropping terminal output with bad data", "pid", p.PID, "error", err)
		}
		return
	}
	b.store.Dispatch(store.AppendTerminal{PID: p.PID, Stream: p.Stream, Data: data})
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// accRegistry keys one accumulator per session and flushes each into the
// store as an unversioned delta, leaving the session version untouched for
// host-minted deltas to advance.
type accRegistry struct {
	store    *store.Store
	interval time.Duration

	mu   sync.Mutex
	accs map[string]*stream.Accumulator
}

func newAccRegistry(st *store.Store, interval time.Duration) *accRegistry {
	if interval <= 0 {
		interval = stream.DefaultInterval
	}
	return &accRegistry{
		store:    st,
		interval: interval,
		accs:     make(map[string]*stream.Accumulator),
	}
}

// forSession returns the session's accumulator, creating one on first use.
// Unknown sessions yield nil.
func (r *accRegistry) forSession(sessionID string) *stream.Accumulator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accs[sessionID]; ok {
		return acc
	}
	if r.store.State().Session(sessionID) == nil {
		return nil
	}
	acc := stream.New(sessionID, r.interval, func(_ string, d *conv.Delta) {
		r.store.Dispatch(store.ApplyDelta{Delta: d})
	})
	r.accs[sessionID] = acc
	return acc
}

func (r *accRegistry) flush(sessionID string) {
	r.mu.Lock()
	acc := r.accs[sessionID]
	r.mu.Unlock()
	if acc != nil {
		acc.Flush()
	}
}

// clear drops the accumulator without flushing; the next fragment recreates
// one.
func (r *accRegistry) clear(sessionID string) {
	r.mu.Lock()
	acc := r.accs[sessionID]
	delete(r.accs, sessionID)
	r.mu.Unlock()
	if acc != nil {
		acc.Clear()
	}
}

func (r *accRegistry) clearAll() {
	r.mu.Lock()
	accs := r.accs
	r.accs = make(map[string]*stream.Accumulator)
	r.mu.Unlock()
	for _, acc := range accs {
		acc.Clear()
	}
}
