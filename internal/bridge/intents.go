package bridge

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/floegence/flowersec/flowersec-go/rpc"

	"github.com/floegence/redeven-ui/internal/conv"
)

// EditResend replaces a message's content and asks the host to re-run from it.
type EditResend struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// ForkBranch forks an alternate continuation at a message.
type ForkBranch struct {
	SessionID          string `json:"session_id"`
	ForkPointMessageID string `json:"fork_point_message_id"`
	Name               string `json:"name,omitempty"`
}

// SwitchBranch changes the session's active branch (empty for the main line).
type SwitchBranch struct {
	SessionID string `json:"session_id"`
	BranchID  string `json:"branch_id"`
}

// DeleteBranch removes a branch and its messages.
type DeleteBranch struct {
	SessionID string `json:"session_id"`
	BranchID  string `json:"branch_id"`
}

// ToolConfirm approves or denies a queued tool call.
type ToolConfirm struct {
	RunID    string `json:"run_id"`
	CallID   string `json:"call_id"`
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// QuestionAnswer answers or skips a pending agent question.
type QuestionAnswer struct {
	SessionID  string `json:"session_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// DecisionDecide picks an option for a pending agent decision, or skips it.
type DecisionDecide struct {
	SessionID  string `json:"session_id"`
	DecisionID string `json:"decision_id"`
	OptionID   string `json:"option_id,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// Reaction attaches the user's reaction to a message.
type Reaction struct {
	SessionID string        `json:"session_id"`
	MessageID string        `json:"message_id"`
	Reaction  conv.Reaction `json:"reaction"`
}

type intentMsg struct {
	TypeID  uint32
	Payload json.RawMessage
}

// IntentWriter sends user intents to the host over the RPC stream without
// ever blocking the UI goroutine: sends queue onto a buffered channel drained
// by one writer goroutine, and overflow drops the intent with a log rather
// than stalling input handling.
type IntentWriter struct {
	log *slog.Logger
	srv *rpc.Server

	ch   chan intentMsg
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// NewIntentWriter starts the writer goroutine for one stream server.
func NewIntentWriter(srv *rpc.Server, log *slog.Logger) *IntentWriter {
	if log == nil {
		log = slog.Default()
	}
	w := &IntentWriter{
		log:  log,
		srv:  srv,
		ch:   make(chan intentMsg, 256),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *IntentWriter) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case msg := <-w.ch:
			if w.srv == nil {
				return
			}
			if err := w.srv.Notify(msg.TypeID, msg.Payload); err != nil {
				return
			}
		}
	}
}

// Close stops the writer. Queued intents that have not been written are lost.
func (w *IntentWriter) Close() {
	if w == nil {
		return
	}
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *IntentWriter) send(typeID uint32, v any) {
	if w == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		w.log.Warn("intent encode failed", "type_id", typeID, "error", err)
		return
	}
	select {
	case <-w.stop:
	case w.ch <- intentMsg{TypeID: typeID, Payload: payload}:
	default:
		w.log.Warn("intent queue full; dropping", "type_id", typeID)
	}
}

func (w *IntentWriter) EditResend(v EditResend)         { w.send(TypeID_UI_EDIT_RESEND, v) }
func (w *IntentWriter) ForkBranch(v ForkBranch)         { w.send(TypeID_UI_FORK_BRANCH, v) }
func (w *IntentWriter) SwitchBranch(v SwitchBranch)     { w.send(TypeID_UI_SWITCH_BRANCH, v) }
func (w *IntentWriter) DeleteBranch(v DeleteBranch)     { w.send(TypeID_UI_DELETE_BRANCH, v) }
func (w *IntentWriter) ToolConfirm(v ToolConfirm)       { w.send(TypeID_UI_TOOL_CONFIRM, v) }
func (w *IntentWriter) QuestionAnswer(v QuestionAnswer) { w.send(TypeID_UI_QUESTION_ANSWER, v) }
func (w *IntentWriter) DecisionDecide(v DecisionDecide) { w.send(TypeID_UI_DECISION_DECIDE, v) }
func (w *IntentWriter) Reaction(v Reaction)             { w.send(TypeID_UI_REACTION, v) }
