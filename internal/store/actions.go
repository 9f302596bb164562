package store

import (
	"encoding/json"

	"github.com/floegence/redeven-ui/internal/conv"
)

// Action is a request to mutate the state tree. Every mutation, including
// delta application, goes through Store.Dispatch with one of these.
type Action interface {
	// actionName is used in drop diagnostics.
	actionName() string
}

// --- sessions ---

// UpsertSession replaces or inserts a session wholesale. This is the seam
// where a hydration layer injects previously-saved sessions.
type UpsertSession struct{ Session *conv.Session }

// UpsertSessions is the bulk form of UpsertSession (initial load).
type UpsertSessions struct{ Sessions []*conv.Session }

// DeleteSession removes a session and all auxiliary state keyed by it.
type DeleteSession struct{ SessionID string }

// ClearSessions drops every session and all auxiliary state.
type ClearSessions struct{}

// ApplyDelta applies a transactional change set to one session. Stale
// versions are silently dropped; unknown sessions are dropped with a log.
type ApplyDelta struct{ Delta *conv.Delta }

// SetStatus transitions a session's status. Transitions outside the allowed
// graph are dropped with a diagnostic.
type SetStatus struct {
	SessionID string
	Status    conv.Status
}

// SetTitle sets a session's title.
type SetTitle struct {
	SessionID string
	Title     string
}

// SetActiveRun points the session at its currently executing run (empty to clear).
type SetActiveRun struct {
	SessionID string
	RunID     string
}

// SetConfig replaces a session's opaque settings blob.
type SetConfig struct {
	SessionID string
	Config    json.RawMessage
}

// AddUsage adds token counters to the session total.
type AddUsage struct {
	SessionID string
	Usage     conv.Usage
}

// SetReaction sets the user's reaction on one message.
type SetReaction struct {
	SessionID string
	MessageID string
	Reaction  conv.Reaction
}

// EditTruncate replaces a message's content and drops every later message —
// the edit-and-resend tail replacement.
type EditTruncate struct {
	SessionID string
	MessageID string
	Content   string
}

// --- branches ---

// AddBranch records a fork created at a message.
type AddBranch struct {
	SessionID string
	Branch    conv.Branch
}

// SwitchBranch changes the active branch (empty id returns to the main line).
type SwitchBranch struct {
	SessionID string
	BranchID  string
}

// DeleteBranch removes a branch, its messages, and clears ActiveBranchID if
// it pointed at the deleted branch.
type DeleteBranch struct {
	SessionID string
	BranchID  string
}

// --- tool lifecycle ---

// QueueTools appends tool calls to a run's queue.
type QueueTools struct {
	RunID string
	Tools []QueuedTool
}

// StartTool moves a tool call from queued to executing. Remaining queue
// positions are recomputed contiguous from 0.
type StartTool struct {
	RunID           string
	CallID          string
	Name            string
	Arguments       string
	StartedAtUnixMs int64
}

// SetToolResult records a finished tool call and clears its executing entry.
type SetToolResult struct {
	RunID  string
	Result ToolResult
}

// DequeueTool removes a queued tool without executing it (deny/cancel).
type DequeueTool struct {
	RunID  string
	CallID string
}

// --- auxiliary session state ---

// SetRouting records the host router's provider/model decision.
type SetRouting struct {
	SessionID string
	Decision  RoutingDecision
}

// SetTodos replaces a session's todo list.
type SetTodos struct {
	SessionID string
	Todos     []TodoItem
}

// SetRunError attaches a structured agent-run failure to a session.
type SetRunError struct {
	SessionID string
	Err       conv.RunErrorInfo
}

// ClearRunError removes a session's run error.
type ClearRunError struct{ SessionID string }

// AddQuestion / RemoveQuestion manage pending agent questions.
type AddQuestion struct {
	SessionID string
	Question  Question
}
type RemoveQuestion struct {
	SessionID  string
	QuestionID string
}

// AddDecision / RemoveDecision manage pending agent decisions.
type AddDecision struct {
	SessionID string
	Decision  Decision
}
type RemoveDecision struct {
	SessionID  string
	DecisionID string
}

// AddProgress / UpdateProgress / ClearProgress manage live progress rows.
type AddProgress struct {
	SessionID string
	Item      ProgressItem
}
type UpdateProgress struct {
	SessionID string
	Item      ProgressItem
}
type ClearProgress struct{ SessionID string }

// SetContextWindow updates a session's token headroom metrics.
type SetContextWindow struct {
	SessionID  string
	UsedTokens int64
	MaxTokens  int64
}

// --- terminals ---

// AppendTerminal appends host terminal output to the pid's bounded ring.
type AppendTerminal struct {
	PID    int
	Stream string // stdout|stderr
	Data   []byte
}

// TerminalExit records a terminal process exit code.
type TerminalExit struct {
	PID  int
	Code int
}

// RemoveTerminal drops a pid's terminal history.
type RemoveTerminal struct{ PID int }

// --- cleanup ---

// CleanupRun purges every auxiliary entry keyed by the run id. Must be
// dispatched when a run reaches a terminal status to bound memory growth.
type CleanupRun struct{ RunID string }

// CleanupSession purges every auxiliary entry keyed by the session id (the
// session itself is removed by DeleteSession).
type CleanupSession struct{ SessionID string }

func (UpsertSession) actionName() string    { return "upsert_session" }
func (UpsertSessions) actionName() string   { return "upsert_sessions" }
func (DeleteSession) actionName() string    { return "delete_session" }
func (ClearSessions) actionName() string    { return "clear_sessions" }
func (ApplyDelta) actionName() string       { return "apply_delta" }
func (SetStatus) actionName() string        { return "set_status" }
func (SetTitle) actionName() string         { return "set_title" }
func (SetActiveRun) actionName() string     { return "set_active_run" }
func (SetConfig) actionName() string        { return "set_config" }
func (AddUsage) actionName() string         { return "add_usage" }
func (SetReaction) actionName() string      { return "set_reaction" }
func (EditTruncate) actionName() string     { return "edit_truncate" }
func (AddBranch) actionName() string        { return "add_branch" }
func (SwitchBranch) actionName() string     { return "switch_branch" }
func (DeleteBranch) actionName() string     { return "delete_branch" }
func (QueueTools) actionName() string       { return "queue_tools" }
func (StartTool) actionName() string        { return "start_tool" }
func (SetToolResult) actionName() string    { return "set_tool_result" }
func (DequeueTool) actionName() string      { return "dequeue_tool" }
func (SetRouting) actionName() string       { return "set_routing" }
func (SetTodos) actionName() string         { return "set_todos" }
func (SetRunError) actionName() string      { return "set_run_error" }
func (ClearRunError) actionName() string    { return "clear_run_error" }
func (AddQuestion) actionName() string      { return "add_question" }
func (RemoveQuestion) actionName() string   { return "remove_question" }
func (AddDecision) actionName() string      { return "add_decision" }
func (RemoveDecision) actionName() string   { return "remove_decision" }
func (AddProgress) actionName() string      { return "add_progress" }
func (UpdateProgress) actionName() string   { return "update_progress" }
func (ClearProgress) actionName() string    { return "clear_progress" }
func (SetContextWindow) actionName() string { return "set_context_window" }
func (AppendTerminal) actionName() string   { return "append_terminal" }
func (TerminalExit) actionName() string     { return "terminal_exit" }
func (RemoveTerminal) actionName() string   { return "remove_terminal" }
func (CleanupRun) actionName() string       { return "cleanup_run" }
func (CleanupSession) actionName() string   { return "cleanup_session" }
