package conv

// This package defines the in-memory conversation model shared by the renderer core.
//
// Design notes:
// - Sessions are treated as immutable snapshots: mutation happens only through
//   delta application (delta.go) or whole-session replacement in the store.
// - JSON tags are snake_case to match the rest of the redeven UI surface.

import (
	"encoding/json"
	"strings"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusPaused    Status = "paused"
)

// Terminal reports whether the status ends a run (completed/error/cancelled).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError, StatusCancelled, StatusPaused:
		return true
	}
	return false
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Reaction is the user's up/down feedback on a message. Empty means none.
type Reaction string

const (
	ReactionUp   Reaction = "up"
	ReactionDown Reaction = "down"
	ReactionNone Reaction = ""
)

// Usage holds token counters for one message or one session total.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
	}
}

// ToolCall describes one tool invocation requested by the assistant.
type ToolCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // raw JSON as emitted by the agent
}

// MediaRef points at generated media (images, files) attached to a message.
type MediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message is one turn in a conversation.
//
// Content and Thinking are append-only while the owning run is streaming;
// ToolSuccess stays nil until the matching tool result arrives.
type Message struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	Content     string     `json:"content,omitempty"`
	Thinking    string     `json:"thinking,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"` // back-reference for tool-role messages
	ToolSuccess *bool      `json:"tool_success,omitempty"`
	Usage       *Usage     `json:"usage,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	BranchID    string     `json:"branch_id,omitempty"` // empty means the main line

	Reaction        Reaction   `json:"reaction,omitempty"`
	Media           []MediaRef `json:"media,omitempty"`
	CreatedAtUnixMs int64      `json:"created_at_unix_ms,omitempty"`
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if len(m.Media) > 0 {
		out.Media = append([]MediaRef(nil), m.Media...)
	}
	if m.ToolSuccess != nil {
		v := *m.ToolSuccess
		out.ToolSuccess = &v
	}
	if m.Usage != nil {
		v := *m.Usage
		out.Usage = &v
	}
	return &out
}

// Branch is an alternate continuation forked from a specific message.
type Branch struct {
	ID                 string `json:"id"`
	ParentBranchID     string `json:"parent_branch_id,omitempty"`
	ForkPointMessageID string `json:"fork_point_message_id"`
	Name               string `json:"name,omitempty"`
	CreatedAtUnixMs    int64  `json:"created_at_unix_ms"`
}

// RunErrorInfo is the one error category surfaced to the user: a structured
// agent-side run failure attached to the session.
type RunErrorInfo struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Recoverable  bool   `json:"recoverable"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

// Session is one conversation thread with the agent.
//
// Version only ever increases; the store rejects deltas at or below it.
type Session struct {
	ID             string          `json:"id"`
	Title          string          `json:"title,omitempty"`
	Status         Status          `json:"status"`
	Messages       []*Message      `json:"messages,omitempty"`
	Branches       []Branch        `json:"branches,omitempty"`
	ActiveBranchID string          `json:"active_branch_id,omitempty"`
	ActiveRunID    string          `json:"active_run_id,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"` // opaque settings blob
	Usage          Usage           `json:"usage"`
	Version        uint64          `json:"version"`
}

// MessageByID returns the message with the given id and its index, or (nil, -1).
func (s *Session) MessageByID(id string) (*Message, int) {
	if s == nil {
		return nil, -1
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, -1
	}
	for i, m := range s.Messages {
		if m != nil && m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

// BranchByID returns the branch with the given id, or nil.
func (s *Session) BranchByID(id string) *Branch {
	if s == nil || strings.TrimSpace(id) == "" {
		return nil
	}
	for i := range s.Branches {
		if s.Branches[i].ID == id {
			return &s.Branches[i]
		}
	}
	return nil
}
