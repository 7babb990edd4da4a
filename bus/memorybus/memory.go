// Package memorybus is an in-process bus.Bus for tests and single-node
// deployments. Each subscription owns a bounded buffer; when it is full new
// messages for that subscription are dropped, matching the at-most-once
// guarantee of the networked bus.
package memorybus

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/ggoodman/partymesh/bus"
)

const defaultBufferSize = 128

// Bus implements bus.Bus with goroutine-per-subscription dispatch.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool

	bufferSize int
	log        *slog.Logger
}

type subscription struct {
	channels []string
	ch       chan bus.Message
	done     chan struct{}
	once     sync.Once
}

func (s *subscription) stop() { s.once.Do(func() { close(s.done) }) }

// Option customizes a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscription buffer length.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithLogger sets the logger used to report dropped messages.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates an empty in-process bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[*subscription]struct{}),
		bufferSize: defaultBufferSize,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return bus.ErrClosed
	}
	for s := range b.subs {
		if !slices.Contains(s.channels, channel) {
			continue
		}
		msg := bus.Message{Channel: channel, Payload: slices.Clone(payload)}
		select {
		case <-s.done:
		case s.ch <- msg:
		default:
			b.log.WarnContext(ctx, "bus.publish.drop", slog.String("channel", channel))
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channels []string, handler bus.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := &subscription{
		channels: slices.Clone(channels),
		ch:       make(chan bus.Message, b.bufferSize),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bus.ErrClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer b.remove(s)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case msg := <-s.ch:
				handler(ctx, msg)
			}
		}
	}()
	return nil
}

func (b *Bus) remove(s *subscription) {
	s.stop()
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		s.stop()
	}
	return nil
}

// Compile-time interface check
var _ bus.Bus = (*Bus)(nil)
