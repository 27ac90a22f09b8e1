package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler() *Scheduler {
	return New(slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func TestAdd(t *testing.T) {
	noop := func(context.Context) error { return nil }

	t.Run("rejects missing fields", func(t *testing.T) {
		s := newTestScheduler()
		if err := s.Add(&Job{Schedule: "@every 1h", Run: noop}); err == nil {
			t.Error("expected error for missing ID")
		}
		if err := s.Add(&Job{ID: "prune", Run: noop}); err == nil {
			t.Error("expected error for missing schedule")
		}
		if err := s.Add(&Job{ID: "prune", Schedule: "@every 1h"}); err == nil {
			t.Error("expected error for missing run function")
		}
	})

	t.Run("rejects invalid schedule", func(t *testing.T) {
		s := newTestScheduler()
		if err := s.Add(&Job{ID: "prune", Schedule: "every hour please", Run: noop}); err == nil {
			t.Error("expected error for invalid schedule")
		}
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		s := newTestScheduler()
		if err := s.Add(&Job{ID: "prune", Schedule: "@hourly", Run: noop}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if err := s.Add(&Job{ID: "prune", Schedule: "@hourly", Run: noop}); err == nil {
			t.Error("expected duplicate error")
		}
		if _, ok := s.Get("prune"); !ok {
			t.Error("expected the first job to stay registered")
		}
	})

	t.Run("accepts cron expressions", func(t *testing.T) {
		s := newTestScheduler()
		if err := s.Add(&Job{ID: "nightly", Schedule: "0 3 * * *", Run: noop}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	})
}

func TestRunNow(t *testing.T) {
	t.Run("runs and records", func(t *testing.T) {
		s := newTestScheduler()
		var calls atomic.Int32
		_ = s.Add(&Job{ID: "prune", Schedule: "@hourly", Run: func(context.Context) error {
			calls.Add(1)
			return nil
		}})

		if err := s.RunNow("prune"); err != nil {
			t.Fatalf("RunNow failed: %v", err)
		}
		job, _ := s.Get("prune")
		if calls.Load() != 1 || job.RunCount != 1 {
			t.Errorf("expected one run, got calls=%d run_count=%d", calls.Load(), job.RunCount)
		}
		if job.LastRunAt == nil {
			t.Error("expected LastRunAt to be set")
		}
	})

	t.Run("records errors", func(t *testing.T) {
		s := newTestScheduler()
		_ = s.Add(&Job{ID: "prune", Schedule: "@hourly", Run: func(context.Context) error {
			return errors.New("disk full")
		}})

		if err := s.RunNow("prune"); err == nil {
			t.Error("expected error")
		}
		job, _ := s.Get("prune")
		if job.LastError != "disk full" {
			t.Errorf("expected LastError 'disk full', got %q", job.LastError)
		}
	})

	t.Run("recovers panics", func(t *testing.T) {
		s := newTestScheduler()
		_ = s.Add(&Job{ID: "boom", Schedule: "@hourly", Run: func(context.Context) error {
			panic("boom")
		}})

		if err := s.RunNow("boom"); err == nil {
			t.Error("expected panic to surface as error")
		}
	})

	t.Run("applies timeout", func(t *testing.T) {
		s := newTestScheduler()
		_ = s.Add(&Job{ID: "slow", Schedule: "@hourly", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}})

		if err := s.RunNow("slow"); err == nil {
			t.Error("expected deadline error")
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		if err := newTestScheduler().RunNow("missing"); err == nil {
			t.Error("expected not found error")
		}
	})
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32
	_ = s.Add(&Job{ID: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Error("expected job to fire at least once")
	}
}
