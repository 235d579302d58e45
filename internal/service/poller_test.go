package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewPollerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPoller(nil, time.Second, zap.NewNop()); err == nil {
		t.Fatal("expected error when runner is nil")
	}

	p, err := NewPoller(&fakeCycleRunner{}, 0, nil)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	if p.interval != 60*time.Second {
		t.Fatalf("interval = %s, want 60s default", p.interval)
	}
}

func TestPollerRunsImmediately(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeCycleRunner{onRun: func(n int64) { cancel() }}
	p, err := NewPoller(runner, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	if got := runner.calls.Load(); got != 1 {
		t.Fatalf("cycles = %d, want 1", got)
	}
}

func TestPollerTicksUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeCycleRunner{onRun: func(n int64) {
		if n == 3 {
			cancel()
		}
	}}
	p, err := NewPoller(runner, 5*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}

	if got := runner.calls.Load(); got != 3 {
		t.Fatalf("cycles = %d, want 3", got)
	}
}
