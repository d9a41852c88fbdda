package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastSupervisor(maxRestarts int) *Supervisor {
	return NewSupervisor(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  1,
		MaxRestarts:    maxRestarts,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSupervisorRestartsFailingTask(t *testing.T) {
	supervisor := fastSupervisor(0)
	var calls atomic.Int32
	run := func(ctx context.Context) error {
		if calls.Add(1) <= 2 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if err := supervisor.Start(context.Background(), "restarting", RestartTransient, run); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() >= 3 })

	status := supervisor.Status()
	if len(status) != 1 || status[0].RestartCount != 2 || status[0].LastError != "boom" {
		t.Fatalf("unexpected status: %+v", status)
	}
	supervisor.StopAll()
	if len(supervisor.Running()) != 0 {
		t.Fatalf("expected no running tasks, got %v", supervisor.Running())
	}
}

func TestSupervisorTransientStopsOnCleanExit(t *testing.T) {
	supervisor := fastSupervisor(0)
	var calls atomic.Int32
	if err := supervisor.Start(context.Background(), "once", RestartTransient, func(context.Context) error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := supervisor.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("clean exit must not restart a transient task, calls=%d", calls.Load())
	}
}

func TestSupervisorGivesUpAfterMaxRestarts(t *testing.T) {
	supervisor := fastSupervisor(2)
	var calls atomic.Int32
	if err := supervisor.Start(context.Background(), "doomed", RestartPermanent, func(context.Context) error {
		calls.Add(1)
		return errors.New("always")
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := supervisor.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected initial run plus 2 restarts, got %d", calls.Load())
	}
	if status := supervisor.Status(); !status[0].GaveUp {
		t.Fatalf("expected task to give up: %+v", status)
	}
}

func TestSupervisorStopsTaskByName(t *testing.T) {
	supervisor := fastSupervisor(0)
	stopped := make(chan struct{})
	if err := supervisor.Start(context.Background(), "named-stop", RestartPermanent, func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	supervisor.Stop("named-stop")
	select {
	case <-stopped:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected supervised task to stop after named stop")
	}
	if len(supervisor.Running()) != 0 {
		t.Fatalf("expected no running tasks, got %v", supervisor.Running())
	}
}

func TestSupervisorRejectsDuplicatesAndBadInput(t *testing.T) {
	supervisor := fastSupervisor(0)
	t.Cleanup(supervisor.StopAll)
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}
	if err := supervisor.Start(context.Background(), "dup", "", block); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := supervisor.Start(context.Background(), "dup", RestartPermanent, block); err == nil {
		t.Fatal("expected duplicate task name to fail")
	}
	if err := supervisor.Start(context.Background(), "", RestartPermanent, block); err == nil {
		t.Fatal("expected name validation error")
	}
	if err := supervisor.Start(context.Background(), "x", "sometimes", block); err == nil {
		t.Fatal("expected policy validation error")
	}
	if err := supervisor.Start(context.Background(), "y", RestartPermanent, nil); err == nil {
		t.Fatal("expected runner validation error")
	}
}

func TestSupervisorParentCancellationStopsTasks(t *testing.T) {
	supervisor := fastSupervisor(0)
	parent, cancel := context.WithCancel(context.Background())
	if err := supervisor.Start(parent, "child", RestartPermanent, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := supervisor.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
