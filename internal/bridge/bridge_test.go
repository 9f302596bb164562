package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/floegence/flowersec/flowersec-go/rpc"

	"github.com/floegence/redeven-ui/internal/conv"
	"github.com/floegence/redeven-ui/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// bridgeHarness serves a bridge over an in-memory pipe so tests exercise the
// same decode path the host uses.
type bridgeHarness struct {
	store  *store.Store
	bridge *Bridge
	client *rpc.Client
}

func newBridgeHarness(t *testing.T) *bridgeHarness {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { _ = serverConn.Close() })
	t.Cleanup(func() { _ = clientConn.Close() })

	st := store.New(store.Options{Log: testLogger()})
	b := New(Options{Log: testLogger(), Store: st, FlushInterval: time.Hour})
	t.Cleanup(b.Close)

	router := rpc.NewRouter()
	b.Register(router)

	server := rpc.NewServer(serverConn, router)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Serve(ctx) }()

	return &bridgeHarness{store: st, bridge: b, client: rpc.NewClient(clientConn)}
}

// call sends one event and fails the test on transport or wire errors.
func (h *bridgeHarness) call(t *testing.T, typeID uint32, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal type_id=%d: %v", typeID, err)
	}
	_, rpcErr, err := h.client.Call(context.Background(), typeID, payload)
	if err != nil {
		t.Fatalf("Call type_id=%d: %v", typeID, err)
	}
	if rpcErr != nil {
		t.Fatalf("Call type_id=%d: unexpected rpc error code=%d", typeID, rpcErr.Code)
	}
}

func (h *bridgeHarness) upsert(t *testing.T, id string, msgs ...*conv.Message) {
	t.Helper()
	h.call(t, TypeID_UI_SESSION_UPSERT, sessionUpsertPayload{Session: &conv.Session{
		ID:       id,
		Status:   conv.StatusIdle,
		Messages: msgs,
		Version:  1,
	}})
}

func TestBridge_SessionUpsertAndDelete(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.upsert(t, "s1")
	h.call(t, TypeID_UI_TODOS, todosPayload{SessionID: "s1", Todos: []store.TodoItem{{ID: "t1", Text: "x"}}})

	var commits atomic.Int32
	unsub := h.store.OnCommit(func(*store.State) { commits.Add(1) })
	defer unsub()

	h.call(t, TypeID_UI_SESSION_DELETE, sessionDeletePayload{SessionID: "s1"})

	st := h.store.State()
	if st.Session("s1") != nil {
		t.Fatalf("session survived delete")
	}
	if len(st.Todos) != 0 {
		t.Fatalf("session-scoped aux state survived delete")
	}
	// Deletion and its aux purge land in a single commit.
	if got := commits.Load(); got != 1 {
		t.Fatalf("delete commit count got=%d want=1", got)
	}
}

func TestBridge_HostDeltasInterleaveWithStreamFlushes(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.upsert(t, "s1", &conv.Message{ID: "m1", Role: conv.RoleAssistant, RunID: "r1"})
	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r1", Status: conv.StatusRunning})

	// Local flushes must not consume the host's version numbers.
	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{SessionID: "s1", MessageID: "m1", Delta: "Hel"})
	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{SessionID: "s1", MessageID: "m1", Delta: "lo"})
	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r1", Status: conv.StatusCompleted})

	h.call(t, TypeID_UI_SESSION_DELTA, sessionDeltaPayload{Delta: &conv.Delta{
		SessionID: "s1",
		Version:   2,
		Append:    []*conv.Message{{ID: "m2", Role: conv.RoleAssistant, RunID: "r2"}},
	}})

	sess := h.store.State().Session("s1")
	if m, _ := sess.MessageByID("m2"); m == nil {
		t.Fatalf("host delta dropped after local flushes")
	}
	if sess.Version != 2 {
		t.Fatalf("version got=%d want=2", sess.Version)
	}
	if m, _ := sess.MessageByID("m1"); m.Content != "Hello" {
		t.Fatalf("flushed content got=%q want=%q", m.Content, "Hello")
	}

	// And the other direction: a host delta must not render later flushes stale.
	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r2", Status: conv.StatusRunning})
	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{SessionID: "s1", MessageID: "m2", Delta: "after"})
	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r2", Status: conv.StatusCompleted})

	if m, _ := h.store.State().Session("s1").MessageByID("m2"); m.Content != "after" {
		t.Fatalf("post-delta flush got=%q want=%q", m.Content, "after")
	}
}

func TestBridge_MalformedPayloadIsRejected(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)

	_, rpcErr, err := h.client.Call(context.Background(), TypeID_UI_RUN_STATUS, []byte(`{"session_id":42}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if rpcErr == nil || rpcErr.Code != 400 {
		t.Fatalf("expected wire error 400, got %+v", rpcErr)
	}
	if len(h.store.State().Sessions) != 0 {
		t.Fatalf("malformed event reached the store")
	}
}

func TestBridge_StreamDeltasFlushOnCompletion(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.upsert(t, "s1", &conv.Message{ID: "m1", Role: conv.RoleAssistant, RunID: "r1"})
	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r1", Status: conv.StatusRunning})

	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{SessionID: "s1", MessageID: "m1", Delta: "Hel"})
	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{SessionID: "s1", MessageID: "m1", Delta: "lo"})

	// Nothing visible until a flush boundary.
	if m, _ := h.store.State().Session("s1").MessageByID("m1"); m.Content != "" {
		t.Fatalf("content visible before flush: %q", m.Content)
	}

	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r1", Status: conv.StatusCompleted})

	sess := h.store.State().Session("s1")
	if m, _ := sess.MessageByID("m1"); m.Content != "Hello" {
		t.Fatalf("content got=%q want=%q", m.Content, "Hello")
	}
	if sess.Status != conv.StatusCompleted {
		t.Fatalf("status got=%q want=%q", sess.Status, conv.StatusCompleted)
	}
	if sess.ActiveRunID != "" {
		t.Fatalf("active run not cleared: %q", sess.ActiveRunID)
	}
}

func TestBridge_CancelDropsBufferedFragments(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.upsert(t, "s1", &conv.Message{ID: "m1", Role: conv.RoleAssistant, RunID: "r1"})
	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r1", Status: conv.StatusRunning})
	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{SessionID: "s1", MessageID: "m1", Delta: "partial"})

	h.call(t, TypeID_UI_RUN_STATUS, runStatusPayload{SessionID: "s1", RunID: "r1", Status: conv.StatusCancelled})

	if m, _ := h.store.State().Session("s1").MessageByID("m1"); m.Content != "" {
		t.Fatalf("cancelled fragments resurrected: %q", m.Content)
	}
}

func TestBridge_ToolLifecycleEvents(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.call(t, TypeID_UI_TOOL_QUEUED, toolQueuedPayload{RunID: "r1", Tools: []store.QueuedTool{
		{CallID: "c1", Name: "read", QueuePosition: 0},
	}})
	h.call(t, TypeID_UI_TOOL_STARTED, toolStartedPayload{RunID: "r1", CallID: "c1", Name: "read"})
	h.call(t, TypeID_UI_TOOL_RESULT, toolResultPayload{
		RunID: "r1", SessionID: "s1", CallID: "c1", ToolName: "read",
		Result: toolResultInner{Success: true, Output: "data"},
	})

	st := h.store.State()
	if len(st.QueuedTools["r1"]) != 0 {
		t.Fatalf("queue not drained")
	}
	res := st.ToolResults["r1"]["c1"]
	if res == nil || !res.Success || res.Output != "data" {
		t.Fatalf("tool result got=%+v", res)
	}
}

func TestBridge_TerminalOutputDecodesBase64(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.call(t, TypeID_UI_TERMINAL_OUTPUT, terminalOutputPayload{
		PID:     7,
		Stream:  "stdout",
		DataB64: base64.StdEncoding.EncodeToString([]byte("$ ls\n")),
	})
	h.call(t, TypeID_UI_TERMINAL_EXIT, terminalExitPayload{PID: 7, Code: 0})

	term := h.store.State().Terminals[7]
	if term == nil {
		t.Fatalf("terminal stream missing")
	}
	if got := string(term.Ring.Bytes()); got != "$ ls\n" {
		t.Fatalf("ring got=%q want=%q", got, "$ ls\n")
	}
	if term.ExitCode == nil || *term.ExitCode != 0 {
		t.Fatalf("exit code got=%v want=0", term.ExitCode)
	}
}

func TestBridge_ToolCallFragmentsAccumulateArguments(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.upsert(t, "s1", &conv.Message{ID: "m1", Role: conv.RoleAssistant, RunID: "r1"})

	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{
		SessionID: "s1", MessageID: "m1",
		ToolCall: &toolCallFragment{CallID: "c1", Name: "read", Arguments: `{"path":`},
	})
	h.call(t, TypeID_UI_STREAM_DELTA, streamDeltaPayload{
		SessionID: "s1", MessageID: "m1",
		ToolCall: &toolCallFragment{CallID: "c1", Arguments: `"/tmp"}`},
	})

	msg, _ := h.store.State().Session("s1").MessageByID("m1")
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("tool calls got=%d want=1", len(msg.ToolCalls))
	}
	tc := msg.ToolCalls[0]
	if tc.Name != "read" || tc.Arguments != `{"path":"/tmp"}` {
		t.Fatalf("tool call got=%+v", tc)
	}
}

func TestBridge_AuxEventsRequireLiveSession(t *testing.T) {
	t.Parallel()

	h := newBridgeHarness(t)
	h.call(t, TypeID_UI_TODOS, todosPayload{SessionID: "ghost", Todos: []store.TodoItem{{ID: "t1", Text: "x"}}})

	if len(h.store.State().Todos) != 0 {
		t.Fatalf("todos recorded for unknown session")
	}
}
