package commands

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorRunsTasks(t *testing.T) {
	e := NewExecutor(4, 16)
	var n atomic.Int32
	for range 10 {
		if err := e.Submit(func(context.Context) { n.Add(1) }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := n.Load(); got != 10 {
		t.Fatalf("ran %d tasks, want 10", got)
	}
}

func TestExecutorQueueFull(t *testing.T) {
	e := NewExecutor(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	if err := e.Submit(func(context.Context) { close(started); <-release }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	if err := e.Submit(func(context.Context) {}); err != nil {
		t.Fatalf("second submit should fill the queue: %v", err)
	}
	if err := e.Submit(func(context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	close(release)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestExecutorRejectsAfterClose(t *testing.T) {
	e := NewExecutor(2, 2)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Submit(func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestExecutorCloseDeadlineCancelsTasks(t *testing.T) {
	e := NewExecutor(1, 1)
	canceled := make(chan struct{})
	started := make(chan struct{})
	_ = e.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("running task should observe cancellation")
	}
}

func TestExecutorSurvivesPanic(t *testing.T) {
	e := NewExecutor(1, 4)
	done := make(chan struct{})
	_ = e.Submit(func(context.Context) { panic("boom") })
	_ = e.Submit(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	_ = e.Close(context.Background())
}
