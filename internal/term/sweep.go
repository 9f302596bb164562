package term

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const defaultSweepInterval = 30 * time.Second

// SweeperOptions wires a Sweeper to the store without importing it.
type SweeperOptions struct {
	Log      *slog.Logger
	Interval time.Duration

	// PIDs returns the process ids currently tracked in the state tree.
	PIDs func() []int
	// Remove drops one tracked terminal stream.
	Remove func(pid int)
}

// Sweeper periodically drops terminal history for processes that no longer
// exist. Explicit cleanup actions remain the primary path; the sweep is the
// backstop for hosts that die without sending terminal-exit.
type Sweeper struct {
	log      *slog.Logger
	interval time.Duration
	pids     func() []int
	remove   func(pid int)
	alive    func(pid int) bool
}

// NewSweeper creates a sweeper. Options without PIDs or Remove yield a
// sweeper whose Run returns immediately.
func NewSweeper(opts SweeperOptions) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		log:      log,
		interval: interval,
		pids:     opts.PIDs,
		remove:   opts.Remove,
		alive:    pidAlive,
	}
}

func pidAlive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		// Can't tell; keep the history rather than dropping it on a probe error.
		return true
	}
	return ok
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s == nil || s.pids == nil || s.remove == nil {
		return
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	for _, pid := range s.pids() {
		if pid <= 0 || s.alive(pid) {
			continue
		}
		s.log.Debug("dropping terminal history for dead process", "pid", pid)
		s.remove(pid)
	}
}
