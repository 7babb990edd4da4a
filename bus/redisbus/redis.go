package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ggoodman/partymesh/bus"
	"github.com/redis/go-redis/v9"
)

// Config configures a Bus.
type Config struct {
	// Client is the Redis client to publish and subscribe with. Required.
	Client redis.UniversalClient
	// Logger receives receive-loop diagnostics. Defaults to discard.
	Logger *slog.Logger
	// InitialBackoff is the first delay after a receive failure. Defaults to 100ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between reconnect attempts. Defaults to 10s.
	MaxBackoff time.Duration
}

// Bus is a Redis pub/sub implementation of bus.Bus.
type Bus struct {
	client     redis.UniversalClient
	log        *slog.Logger
	initial    time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Bus over an existing client.
func New(cfg Config) (*Bus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redisbus: client is required")
	}
	b := &Bus{
		client:     cfg.Client,
		log:        cfg.Logger,
		initial:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		subs:       make(map[*redis.PubSub]struct{}),
	}
	if b.log == nil {
		b.log = slog.New(slog.DiscardHandler)
	}
	if b.initial <= 0 {
		b.initial = 100 * time.Millisecond
	}
	if b.maxBackoff <= 0 {
		b.maxBackoff = 10 * time.Second
	}
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.isClosed() {
		return bus.ErrClosed
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channels []string, handler bus.HandlerFunc) error {
	if len(channels) == 0 {
		return errors.New("redisbus: at least one channel is required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return bus.ErrClosed
	}
	ps := b.client.Subscribe(ctx, channels...)
	b.subs[ps] = struct{}{}
	b.mu.Unlock()

	// Drain confirmations so the subscription is live before we return.
	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			b.release(ps)
			return fmt.Errorf("failed to subscribe to %v: %w", channels, err)
		}
	}

	// Blocking reads ignore cancellation, so closing the PubSub is what
	// unblocks the loop when ctx ends.
	stop := context.AfterFunc(ctx, func() { b.release(ps) })

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer stop()
		defer b.release(ps)
		b.receiveLoop(ctx, ps, handler)
	}()
	return nil
}

func (b *Bus) receiveLoop(ctx context.Context, ps *redis.PubSub, handler bus.HandlerFunc) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.initial
	bo.MaxInterval = b.maxBackoff
	bo.Reset()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || b.isClosed() {
				return
			}
			wait := bo.NextBackOff()
			b.log.WarnContext(ctx, "bus.resubscribe",
				slog.String("err", err.Error()),
				slog.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		bo.Reset()
		handler(ctx, bus.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)})
	}
}

func (b *Bus) release(ps *redis.PubSub) {
	b.mu.Lock()
	_, tracked := b.subs[ps]
	delete(b.subs, ps)
	b.mu.Unlock()
	if tracked {
		_ = ps.Close()
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close stops all subscriptions and waits for their loops to exit. The
// underlying client is left open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	var errs []error
	for ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	return errors.Join(errs...)
}

// Compile-time interface check
var _ bus.Bus = (*Bus)(nil)
