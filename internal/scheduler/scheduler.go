package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler drives dispatch runs at a fixed interval. Each run gets its own
// deadline shorter than the interval so a slow run cannot overlap the next.
type Scheduler struct {
	interval time.Duration
	deadline time.Duration
	runFn    func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a scheduler invoking runFn every interval. A non-positive
// deadline defaults to 80% of the interval.
func New(interval, deadline time.Duration, runFn func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if runFn == nil {
		return nil, errors.New("runFn must not be nil")
	}
	if deadline <= 0 {
		deadline = interval * 8 / 10
	}
	if deadline > interval {
		return nil, errors.New("deadline must not exceed the interval")
	}
	return &Scheduler{
		interval: interval,
		deadline: deadline,
		runFn:    runFn,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("dispatch scheduler started",
			"interval", s.interval.String(),
			"run_deadline", s.deadline.String(),
		)

		s.safeRun(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("dispatch scheduler stopping")
				return
			case <-ticker.C:
				s.safeRun(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("dispatch scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch run panic recovered", "panic", r)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	start := time.Now()
	s.runFn(runCtx)
	slog.Info("dispatch run completed", "duration_ms", time.Since(start).Milliseconds())
}
