// Package bustest provides a conformance suite for bus.Bus implementations.
package bustest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/partymesh/bus"
	"github.com/google/uuid"
)

// BusFactory creates a new bus instance for one subtest.
type BusFactory func(t *testing.T) bus.Bus

// RunBusTests runs the complete bus test suite against the provided factory.
func RunBusTests(t *testing.T, factory BusFactory) {
	t.Run("PublishAndSubscribe", func(t *testing.T) { testPublishAndSubscribe(t, factory) })
	t.Run("ChannelIsolation", func(t *testing.T) { testChannelIsolation(t, factory) })
	t.Run("MultipleChannelsOneSubscription", func(t *testing.T) { testMultipleChannels(t, factory) })
	t.Run("FanOutToSubscribers", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("PublishWithoutSubscribers", func(t *testing.T) { testPublishWithoutSubscribers(t, factory) })
	t.Run("ContextCancellationStopsDelivery", func(t *testing.T) { testContextCancellation(t, factory) })
	t.Run("ClosedBusRejects", func(t *testing.T) { testClosed(t, factory) })
}

// channel returns a channel name unique to this run, so suites sharing a
// Redis server never observe each other.
func channel(name string) string {
	return "bustest:" + uuid.NewString() + ":" + name
}

type recorder struct {
	mu   sync.Mutex
	msgs []bus.Message
	got  chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 64)} }

func (r *recorder) handle(_ context.Context, msg bus.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []bus.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-timeout:
			t.Fatalf("timed out waiting for %d messages, got %d", n, i)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Message(nil), r.msgs...)
}

func (r *recorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-r.got:
		r.mu.Lock()
		defer r.mu.Unlock()
		t.Fatalf("unexpected message delivered: %+v", r.msgs[len(r.msgs)-1])
	case <-time.After(d):
	}
}

func testPublishAndSubscribe(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := channel("a")
	rec := newRecorder()
	if err := b.Subscribe(ctx, []string{ch}, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish(ctx, ch, []byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs := rec.wait(t, 1)
	if msgs[0].Channel != ch || string(msgs[0].Payload) != `{"hello":"world"}` {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
}

func testChannelIsolation(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, other := channel("a"), channel("b")
	rec := newRecorder()
	if err := b.Subscribe(ctx, []string{a}, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish(ctx, other, []byte("ignored")); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	if err := b.Publish(ctx, a, []byte("wanted")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs := rec.wait(t, 1)
	if string(msgs[0].Payload) != "wanted" {
		t.Fatalf("received message from wrong channel: %+v", msgs[0])
	}
	rec.expectNone(t, 200*time.Millisecond)
}

func testMultipleChannels(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, c := channel("a"), channel("c")
	rec := newRecorder()
	if err := b.Subscribe(ctx, []string{a, c}, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = b.Publish(ctx, a, []byte("1"))
	_ = b.Publish(ctx, c, []byte("2"))
	msgs := rec.wait(t, 2)
	seen := map[string]string{}
	for _, m := range msgs {
		seen[m.Channel] = string(m.Payload)
	}
	if seen[a] != "1" || seen[c] != "2" {
		t.Fatalf("expected one message per channel, got %v", seen)
	}
}

func testFanOut(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := channel("fan")
	r1, r2 := newRecorder(), newRecorder()
	if err := b.Subscribe(ctx, []string{ch}, r1.handle); err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	if err := b.Subscribe(ctx, []string{ch}, r2.handle); err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}
	_ = b.Publish(ctx, ch, []byte("x"))
	r1.wait(t, 1)
	r2.wait(t, 1)
}

func testPublishWithoutSubscribers(t *testing.T, factory BusFactory) {
	b := factory(t)
	if err := b.Publish(context.Background(), channel("nobody"), []byte("x")); err != nil {
		t.Fatalf("publish without subscribers should succeed, got %v", err)
	}
}

func testContextCancellation(t *testing.T, factory BusFactory) {
	b := factory(t)
	subCtx, cancel := context.WithCancel(context.Background())

	ch := channel("cancel")
	rec := newRecorder()
	if err := b.Subscribe(subCtx, []string{ch}, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	time.Sleep(100 * time.Millisecond)
	_ = b.Publish(context.Background(), ch, []byte("late"))
	rec.expectNone(t, 200*time.Millisecond)
}

func testClosed(t *testing.T, factory BusFactory) {
	b := factory(t)
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Publish(context.Background(), channel("x"), nil); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("expected ErrClosed from Publish, got %v", err)
	}
	err := b.Subscribe(context.Background(), []string{channel("x")}, func(context.Context, bus.Message) {})
	if !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("expected ErrClosed from Subscribe, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
