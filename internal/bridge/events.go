// Package bridge is the boundary between the host agent runtime and the state
// core. Inbound notifications are decoded into closed payload types and
// translated 1:1 into store actions; anything that fails to decode is logged
// and dropped at this boundary so shape errors never reach reducers. Outbound
// user intents travel the other way over the same stream.
package bridge

import (
	"encoding/json"

	"github.com/floegence/redeven-ui/internal/conv"
	"github.com/floegence/redeven-ui/internal/store"
)

// Inbound notifications (host agent -> UI core).
const (
	TypeID_UI_SESSION_UPSERT uint32 = 4001
	TypeID_UI_SESSION_DELETE uint32 = 4002
	TypeID_UI_SESSION_DELTA  uint32 = 4003
	TypeID_UI_STREAM_DELTA   uint32 = 4004 // content token fragment
	TypeID_UI_THINKING_DELTA uint32 = 4005
	TypeID_UI_RUN_STATUS     uint32 = 4006

	TypeID_UI_TOOL_QUEUED  uint32 = 4007
	TypeID_UI_TOOL_STARTED uint32 = 4008
	TypeID_UI_TOOL_RESULT  uint32 = 4009

	TypeID_UI_ROUTING         uint32 = 4010
	TypeID_UI_QUESTION_ADD    uint32 = 4011
	TypeID_UI_QUESTION_REMOVE uint32 = 4012
	TypeID_UI_DECISION_ADD    uint32 = 4013
	TypeID_UI_DECISION_REMOVE uint32 = 4014
	TypeID_UI_PROGRESS_ADD    uint32 = 4015
	TypeID_UI_PROGRESS_UPDATE uint32 = 4016
	TypeID_UI_PROGRESS_CLEAR  uint32 = 4017
	TypeID_UI_TODOS           uint32 = 4018
	TypeID_UI_RUN_ERROR       uint32 = 4019
	TypeID_UI_RUN_ERROR_CLEAR uint32 = 4020
	TypeID_UI_CONTEXT_WINDOW  uint32 = 4021

	TypeID_UI_TERMINAL_OUTPUT uint32 = 4022 // data is base64
	TypeID_UI_TERMINAL_EXIT   uint32 = 4023
)

// Outbound intents (UI core -> host agent).
const (
	TypeID_UI_EDIT_RESEND     uint32 = 4101
	TypeID_UI_FORK_BRANCH     uint32 = 4102
	TypeID_UI_SWITCH_BRANCH   uint32 = 4103
	TypeID_UI_DELETE_BRANCH   uint32 = 4104
	TypeID_UI_TOOL_CONFIRM    uint32 = 4105
	TypeID_UI_QUESTION_ANSWER uint32 = 4106
	TypeID_UI_DECISION_DECIDE uint32 = 4107
	TypeID_UI_REACTION        uint32 = 4108
)

type sessionUpsertPayload struct {
	Session *conv.Session `json:"session"`
}

type sessionDeletePayload struct {
	SessionID string `json:"session_id"`
}

type sessionDeltaPayload struct {
	Delta *conv.Delta `json:"delta"`
}

// toolCallFragment is a partial tool call carried on a stream delta while the
// model is still emitting arguments.
type toolCallFragment struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type streamDeltaPayload struct {
	SessionID string            `json:"session_id"`
	MessageID string            `json:"message_id,omitempty"`
	Delta     string            `json:"delta,omitempty"`
	ToolCall  *toolCallFragment `json:"tool_call,omitempty"`
}

type thinkingDeltaPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id,omitempty"`
	Delta     string `json:"delta"`
}

type runStatusPayload struct {
	SessionID string      `json:"session_id"`
	RunID     string      `json:"run_id"`
	Status    conv.Status `json:"status"`
}

type toolQueuedPayload struct {
	RunID string             `json:"run_id"`
	Tools []store.QueuedTool `json:"tools"`
}

type toolStartedPayload struct {
	RunID     string `json:"run_id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type toolResultInner struct {
	Success  bool            `json:"success"`
	Output   string          `json:"output"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type toolResultPayload struct {
	RunID     string          `json:"run_id"`
	SessionID string          `json:"session_id"`
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Result    toolResultInner `json:"result"`
}

type routingPayload struct {
	SessionID string                `json:"session_id"`
	Decision  store.RoutingDecision `json:"decision"`
	AtUnixMs  int64                 `json:"timestamp"`
}

type questionAddPayload struct {
	SessionID string         `json:"session_id"`
	Question  store.Question `json:"question"`
}

type questionRemovePayload struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
}

type decisionAddPayload struct {
	SessionID string         `json:"session_id"`
	Decision  store.Decision `json:"decision"`
}

type decisionRemovePayload struct {
	SessionID  string `json:"session_id"`
	DecisionID string `json:"decision_id"`
}

type progressPayload struct {
	SessionID string             `json:"session_id"`
	Item      store.ProgressItem `json:"item"`
}

type progressClearPayload struct {
	SessionID string `json:"session_id"`
}

type todosPayload struct {
	SessionID string           `json:"session_id"`
	Todos     []store.TodoItem `json:"todos"`
}

type runErrorPayload struct {
	SessionID string            `json:"session_id"`
	Err       conv.RunErrorInfo `json:"error"`
}

type runErrorClearPayload struct {
	SessionID string `json:"session_id"`
}

type contextWindowPayload struct {
	SessionID  string `json:"session_id"`
	UsedTokens int64  `json:"used_tokens"`
	MaxTokens  int64  `json:"max_tokens"`
}

type terminalOutputPayload struct {
	PID     int    `json:"pid"`
	Stream  string `json:"stream"`
	DataB64 string `json:"data_b64"`
}

type terminalExitPayload struct {
	PID  int `json:"pid"`
	Code int `json:"code"`
}
