package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("commands: queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("commands: executor closed")
)

// Task is a unit of work run by an Executor. ctx is canceled when Close
// gives up waiting.
type Task func(ctx context.Context)

// Executor runs tasks on a fixed set of workers.
type Executor struct {
	queue  chan Task
	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger used to report task panics.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// NewExecutor starts workers goroutines sharing a queue of queueSize slots.
func NewExecutor(workers, queueSize int, opts ...ExecutorOption) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	for range workers {
		e.group.Go(func() error {
			for task := range e.queue {
				e.run(task)
			}
			return nil
		})
	}
	return e
}

// Submit queues task without blocking.
func (e *Executor) Submit(task Task) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	select {
	case e.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (e *Executor) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("commands.task.panic", slog.String("err", fmt.Sprint(r)))
		}
	}()
	task(e.ctx)
}

// Close stops accepting tasks and waits for queued ones to finish. If ctx
// ends first, running tasks see their context canceled and Close returns
// ctx.Err().
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}
