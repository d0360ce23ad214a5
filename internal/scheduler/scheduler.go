package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle of one loop: STOPPED -> RUNNING -> STOPPING -> STOPPED.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}

const (
	stopTimeout   = 5 * time.Second
	errorCooldown = 10 * time.Second
)

// TickFunc is one unit of loop work. Errors are logged, never fatal; the loop
// cools down and keeps ticking.
type TickFunc func(ctx context.Context) error

// Loop runs a tick function on a fixed interval. A tick that panics is
// recovered and treated as an error, so one bad pass cannot kill the trading
// process.
type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
	gate     func(now time.Time) bool // nil = always tick
	cooldown time.Duration

	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop creates a stopped loop.
func NewLoop(name string, interval time.Duration, tick TickFunc) *Loop {
	return &Loop{
		name:     name,
		interval: interval,
		tick:     tick,
		cooldown: errorCooldown,
	}
}

// WithGate makes the loop skip ticks while gate returns false. Used for the
// market-open check so closed-market hours burn no API quota.
func (l *Loop) WithGate(gate func(now time.Time) bool) *Loop {
	l.gate = gate
	return l
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Start launches the loop goroutine. Starting a non-stopped loop is an error.
func (l *Loop) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return fmt.Errorf("loop %s already %s", l.name, l.State())
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)

	slog.Info("Loop started", slog.String("loop", l.name), slog.Duration("interval", l.interval))
	return nil
}

// Stop requests shutdown and waits up to 5s for the current tick to finish.
func (l *Loop) Stop() {
	if !l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("Loop stop timed out", slog.String("loop", l.name))
	}

	l.state.Store(int32(StateStopped))
	slog.Info("Loop stopped", slog.String("loop", l.name))
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// First tick fires immediately instead of waiting a full interval.
	l.safeTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.safeTick(ctx)
		}
	}
}

// safeTick runs one tick with panic recovery and error cooldown.
func (l *Loop) safeTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if l.gate != nil && !l.gate(time.Now()) {
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tick panic: %v", r)
				slog.Error("Loop tick panicked",
					slog.String("loop", l.name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		return l.tick(ctx)
	}()

	if err != nil && ctx.Err() == nil {
		slog.Error("Loop tick failed",
			slog.String("loop", l.name),
			slog.Any("error", err),
			slog.Duration("cooldown", l.cooldown))
		select {
		case <-ctx.Done():
		case <-time.After(l.cooldown):
		}
	}
}

// Scheduler owns the trading loops and starts/stops them as a set. Each loop
// fails independently; a dead tick in one never blocks the others.
type Scheduler struct {
	loops []*Loop
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a loop. Must be called before Start.
func (s *Scheduler) Add(loop *Loop) {
	s.loops = append(s.loops, loop)
}

// Start launches every registered loop.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, l := range s.loops {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts all loops, in reverse registration order.
func (s *Scheduler) Stop() {
	for i := len(s.loops) - 1; i >= 0; i-- {
		s.loops[i].Stop()
	}
}
