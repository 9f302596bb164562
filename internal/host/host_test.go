package host

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/floegence/flowersec/flowersec-go/rpc"

	"github.com/floegence/redeven-ui/internal/bridge"
	"github.com/floegence/redeven-ui/internal/config"
	"github.com/floegence/redeven-ui/internal/conv"
)

func testConfig() *config.Config {
	return &config.Config{HostWsURL: "wss://host.example/ws", LogLevel: "error", LogFormat: "text"}
}

func TestNew_RejectsBadOptions(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Config: nil, Dial: nil}); err == nil {
		t.Fatalf("New must reject a nil config")
	}
	if _, err := New(Options{Config: &config.Config{}, Dial: func(context.Context) (io.ReadWriteCloser, error) { return nil, nil }}); err == nil {
		t.Fatalf("New must reject an invalid config")
	}
	if _, err := New(Options{Config: testConfig()}); err == nil {
		t.Fatalf("New must reject a nil dialer")
	}
}

func TestConnection_IngestsEventsAndRedials(t *testing.T) {
	t.Parallel()

	conns := make(chan net.Conn, 2)
	dials := make(chan struct{}, 8)
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		dials <- struct{}{}
		server, client := net.Pipe()
		conns <- client
		return server, nil
	}

	c, err := New(Options{Config: testConfig(), Dial: dial})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	hostSide := <-conns
	client := rpc.NewClient(hostSide)

	payload, _ := json.Marshal(map[string]any{"session": &conv.Session{ID: "s1", Status: conv.StatusIdle, Version: 1}})
	if _, rpcErr, err := client.Call(ctx, bridge.TypeID_UI_SESSION_UPSERT, payload); err != nil || rpcErr != nil {
		t.Fatalf("Call: err=%v rpcErr=%+v", err, rpcErr)
	}

	if c.Store().State().Session("s1") == nil {
		t.Fatalf("event did not reach the store")
	}
	if c.Intents() == nil {
		t.Fatalf("intent writer missing while attached")
	}

	// Drop the host side; the loop must redial.
	_ = hostSide.Close()
	select {
	case <-dials: // first dial, already consumed above conceptually
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial dial recorded")
	}
	select {
	case <-dials:
	case <-time.After(5 * time.Second):
		t.Fatalf("connection did not redial after stream loss")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}
