package store

import (
	"encoding/json"

	"github.com/floegence/redeven-ui/internal/conv"
	"github.com/floegence/redeven-ui/internal/term"
)

// ToolResult is the outcome of one tool call, keyed by run and call id.
type ToolResult struct {
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Success  bool            `json:"success"`
	Output   string          `json:"output,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	AtUnixMs int64           `json:"at_unix_ms,omitempty"`
}

// QueuedTool is a tool call waiting to execute. Positions within one run are
// contiguous from 0; the reducer recomputes them on every dequeue.
type QueuedTool struct {
	CallID        string `json:"call_id"`
	Name          string `json:"name"`
	Arguments     string `json:"arguments,omitempty"`
	QueuePosition int    `json:"queue_position"`
}

// ExecutingTool is a tool call currently running on the host.
type ExecutingTool struct {
	CallID          string `json:"call_id"`
	Name            string `json:"name"`
	Arguments       string `json:"arguments,omitempty"`
	StartedAtUnixMs int64  `json:"started_at_unix_ms"`
}

// RoutingDecision records which provider/model the host's router picked for a
// session and why.
type RoutingDecision struct {
	TaskType         string   `json:"task_type"`
	SelectedProvider string   `json:"selected_provider"`
	SelectedModel    string   `json:"selected_model"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason,omitempty"`
	Signals          []string `json:"signals,omitempty"`
	Alternatives     []string `json:"alternatives,omitempty"`
	UsedFallback     bool     `json:"used_fallback,omitempty"`
	OriginalProvider string   `json:"original_provider,omitempty"`
	AtUnixMs         int64    `json:"at_unix_ms,omitempty"`
}

// TodoItem is one entry of a session's agent-maintained todo list.
type TodoItem struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status,omitempty"` // pending|in_progress|done
}

// Question is a pending agent question awaiting a user answer.
type Question struct {
	ID      string   `json:"id"`
	RunID   string   `json:"run_id,omitempty"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// Decision is a pending agent decision awaiting user confirmation.
type Decision struct {
	ID      string   `json:"id"`
	RunID   string   `json:"run_id,omitempty"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// ProgressItem is one live progress row reported by the agent.
type ProgressItem struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id,omitempty"`
	Label   string `json:"label"`
	Percent int    `json:"percent,omitempty"`
}

// ContextWindow tracks token headroom for one session.
type ContextWindow struct {
	UsedTokens int64 `json:"used_tokens"`
	MaxTokens  int64 `json:"max_tokens"`
}

// TerminalStream is the renderer-side view of one host terminal process.
//
// The ring is shared across snapshots and internally synchronized; Seq is the
// per-stream version stamp that makes appends visible to reference-equality
// selectors without copying the ring.
type TerminalStream struct {
	PID      int
	Ring     *term.Ring
	Seq      uint64
	ExitCode *int
}

// State is the single immutable state tree. Every dispatch produces a new
// State value that shares all untouched maps by reference; readers always see
// a fully-formed snapshot.
//
// Auxiliary maps live beside Sessions (not inside them) so a tool result or a
// terminal chunk never invalidates session reads.
type State struct {
	Sessions map[string]*conv.Session

	ToolResults    map[string]map[string]*ToolResult    // run id -> call id
	QueuedTools    map[string][]*QueuedTool             // run id
	ExecutingTools map[string]map[string]*ExecutingTool // run id -> call id

	Routing        map[string]*RoutingDecision   // session id
	Todos          map[string][]TodoItem         // session id
	RunErrors      map[string]*conv.RunErrorInfo // session id
	Questions      map[string][]*Question        // session id
	Decisions      map[string][]*Decision        // session id
	Progress       map[string][]*ProgressItem    // session id
	ContextWindows map[string]*ContextWindow     // session id

	Terminals map[int]*TerminalStream // pid
}

func newState() *State {
	return &State{
		Sessions:       make(map[string]*conv.Session),
		ToolResults:    make(map[string]map[string]*ToolResult),
		QueuedTools:    make(map[string][]*QueuedTool),
		ExecutingTools: make(map[string]map[string]*ExecutingTool),
		Routing:        make(map[string]*RoutingDecision),
		Todos:          make(map[string][]TodoItem),
		RunErrors:      make(map[string]*conv.RunErrorInfo),
		Questions:      make(map[string][]*Question),
		Decisions:      make(map[string][]*Decision),
		Progress:       make(map[string][]*ProgressItem),
		ContextWindows: make(map[string]*ContextWindow),
		Terminals:      make(map[int]*TerminalStream),
	}
}

// Session returns the session with the given id, or nil.
func (st *State) Session(id string) *conv.Session {
	if st == nil {
		return nil
	}
	return st.Sessions[id]
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deleteFromMap[K comparable, V any](m map[K]V, key K) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		if k == key {
			continue
		}
		out[k] = v
	}
	return out
}
