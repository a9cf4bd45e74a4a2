package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAddJob(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	sched := New(nil)
	err := sched.AddJob("session-sweep", "@every 1s", func(context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}

	// Start cron and wait for it to fire
	sched.cron.Start()
	time.Sleep(1500 * time.Millisecond)
	sched.cron.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one firing")
	}
}

func TestAddJobReplacesByName(t *testing.T) {
	sched := New(nil)
	if err := sched.AddJob("sweep", "@every 1h", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := sched.AddJob("sweep", "@every 2h", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d, want 1", sched.JobCount())
	}
}

func TestInvalidSchedule(t *testing.T) {
	sched := New(nil)
	if err := sched.AddJob("sweep", "invalid-cron", func(context.Context) {}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestRemoveJob(t *testing.T) {
	sched := New(nil)
	sched.AddJob("a", "@every 1h", func(context.Context) {})
	sched.AddJob("b", "@every 2h", func(context.Context) {})

	if sched.JobCount() != 2 {
		t.Fatalf("JobCount = %d before remove", sched.JobCount())
	}

	sched.RemoveJob("a")
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d after remove", sched.JobCount())
	}
	sched.RemoveJob("missing")
	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d after removing missing job", sched.JobCount())
	}
}
