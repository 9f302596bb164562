// Package host maintains the renderer's connection to the agent host: one
// RPC stream carrying inbound state notifications and outbound user intents.
// The connection owns the store, the subscription hub, and the bridge, and
// survives host restarts with exponential backoff.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/floegence/flowersec/flowersec-go/rpc"
	xterm "golang.org/x/term"

	"github.com/floegence/redeven-ui/internal/bridge"
	"github.com/floegence/redeven-ui/internal/config"
	"github.com/floegence/redeven-ui/internal/store"
	"github.com/floegence/redeven-ui/internal/term"
	"github.com/floegence/redeven-ui/internal/watch"
)

// Dialer opens one stream to the agent host. The connection loop calls it
// again after every disconnect.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Options configures a Connection.
type Options struct {
	Config *config.Config
	Dial   Dialer
}

// Connection is the long-lived attachment to one agent host.
type Connection struct {
	log    *slog.Logger
	cfg    *config.Config
	dial   Dialer
	store  *store.Store
	hub    *watch.Hub
	bridge *bridge.Bridge

	mu      sync.Mutex
	intents *bridge.IntentWriter
}

// New builds the state core and its host attachment. The stream is not
// dialed until Run.
func New(opts Options) (*Connection, error) {
	if opts.Config == nil {
		return nil, errors.New("nil config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Dial == nil {
		return nil, errors.New("nil dialer")
	}

	logger, err := newLogger(strings.TrimSpace(opts.Config.LogFormat), strings.TrimSpace(opts.Config.LogLevel))
	if err != nil {
		return nil, err
	}

	st := store.New(store.Options{
		Log:               logger,
		TerminalRingBytes: opts.Config.TerminalRingBytes,
	})
	c := &Connection{
		log:   logger,
		cfg:   opts.Config,
		dial:  opts.Dial,
		store: st,
		hub:   watch.NewHub(st, logger),
		bridge: bridge.New(bridge.Options{
			Log:           logger,
			Store:         st,
			FlushInterval: time.Duration(opts.Config.FlushIntervalMs) * time.Millisecond,
		}),
	}
	return c, nil
}

// Store is the state owner shared with display surfaces.
func (c *Connection) Store() *store.Store { return c.store }

// Hub registers selective watchers over store commits.
func (c *Connection) Hub() *watch.Hub { return c.hub }

// Intents returns the writer for the current stream, or nil while
// disconnected. Intents issued while disconnected are dropped; the host
// resends authoritative state on reattach.
func (c *Connection) Intents() *bridge.IntentWriter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intents
}

// Run dials and serves the host stream until the context is cancelled,
// redialing with backoff after each failure.
func (c *Connection) Run(ctx context.Context) error {
	// Backstop for hosts that die without sending terminal-exit.
	sweeper := term.NewSweeper(term.SweeperOptions{
		Log: c.log,
		PIDs: func() []int {
			terms := c.store.State().Terminals
			pids := make([]int, 0, len(terms))
			for pid := range terms {
				pids = append(pids, pid)
			}
			return pids
		},
		Remove: func(pid int) {
			c.store.Dispatch(store.RemoveTerminal{PID: pid})
		},
	})
	go sweeper.Run(ctx)

	bo := newBackoff()
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := bo.Next()
		c.log.Warn("host stream ended; reconnecting", "error", err, "backoff", d.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

func (c *Connection) runOnce(ctx context.Context) error {
	stream, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	router := rpc.NewRouter()
	c.bridge.Register(router)
	srv := rpc.NewServer(stream, router)

	w := bridge.NewIntentWriter(srv, c.log)
	c.mu.Lock()
	c.intents = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.intents = nil
		c.mu.Unlock()
		w.Close()
		// Fragments buffered for the dead stream would flush against state
		// the host will resend wholesale on reattach.
		c.bridge.Close()
	}()

	c.log.Info("host stream attached")
	return srv.Serve(ctx)
}

// --- helper: backoff ---

type backoff struct {
	attempt int
}

func newBackoff() *backoff { return &backoff{} }

func (b *backoff) Next() time.Duration {
	// 250ms, 450ms, 810ms, ... capped at 10s
	if b.attempt < 0 {
		b.attempt = 0
	}
	base := 250 * time.Millisecond
	d := time.Duration(float64(base) * pow(1.8, b.attempt))
	b.attempt++
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// --- logger ---

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "":
		// Text when attached to a terminal, JSON when piped.
		if xterm.IsTerminal(int(os.Stdout.Fd())) {
			h = slog.NewTextHandler(os.Stdout, opts)
		} else {
			h = slog.NewJSONHandler(os.Stdout, opts)
		}
	case "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
