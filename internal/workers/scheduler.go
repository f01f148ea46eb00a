// Package workers implements a cooperative periodic-task scheduler: order
// status sync (5s), risk metrics evaluation (10s), and market-data
// health/stale-data scan (30s). Each task runs to completion before its own
// next tick; tasks across different timers may interleave but a single
// timer's cycles never overlap.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is a single named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of named periodic tasks, one goroutine per
// task, each serialized against itself via its own ticker loop.
type Scheduler struct {
	logger *zap.Logger
	tasks  []Task
}

// New constructs a Scheduler over a fixed task set; tasks are wired once at
// composition-root time and never added at runtime.
func New(logger *zap.Logger, tasks []Task) *Scheduler {
	return &Scheduler{logger: logger.Named("workers"), tasks: tasks}
}

// Run starts every task's ticker loop and blocks until ctx is cancelled,
// then waits for all in-flight task runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, len(s.tasks))
	for _, task := range s.tasks {
		go func(t Task) {
			defer func() { done <- struct{}{} }()
			s.runLoop(ctx, t)
		}(task)
	}
	for range s.tasks {
		<-done
	}
}

// runLoop ticks t.Interval, running one invocation to completion before
// waiting for the next tick — cycles for a given task never overlap.
func (s *Scheduler) runLoop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Run(ctx); err != nil {
				s.logger.Error("periodic task failed", zap.String("task", t.Name), zap.Error(err))
			}
		}
	}
}
