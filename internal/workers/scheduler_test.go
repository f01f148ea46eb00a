package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestScheduler_RunsEachTaskToCompletion(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	s := New(zap.NewNop(), []Task{
		{Name: "fast", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}},
	})
	s.Run(ctx)

	if atomic.LoadInt32(&calls) == 0 {
		t.Fatalf("expected at least one task invocation")
	}
}
