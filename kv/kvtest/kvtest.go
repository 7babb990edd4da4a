// Package kvtest provides a conformance suite every kv.Store implementation
// must pass.
package kvtest

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/partymesh/kv"
)

// StoreFactory creates a fresh, empty store for one subtest.
type StoreFactory func(t *testing.T) kv.Store

// RunStoreTests runs the complete kv.Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("EmptyValueExists", func(t *testing.T) { testEmptyValue(t, factory) })
	t.Run("TTLExpiry", func(t *testing.T) { testTTLExpiry(t, factory) })
	t.Run("SetNX", func(t *testing.T) { testSetNX(t, factory) })
	t.Run("DeleteMany", func(t *testing.T) { testDeleteMany(t, factory) })
	t.Run("Expire", func(t *testing.T) { testExpire(t, factory) })
	t.Run("MGetPartial", func(t *testing.T) { testMGetPartial(t, factory) })
	t.Run("ScanPattern", func(t *testing.T) { testScanPattern(t, factory) })
	t.Run("Mutate_CreateUpdateDelete", func(t *testing.T) { testMutateLifecycle(t, factory) })
	t.Run("Mutate_SkipAndError", func(t *testing.T) { testMutateSkipAndError(t, factory) })
	t.Run("Mutate_PreservesTTL", func(t *testing.T) { testMutatePreservesTTL(t, factory) })
	t.Run("Mutate_ConcurrentWriters", func(t *testing.T) { testMutateConcurrent(t, factory) })
}

func testSetAndGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}

	// Overwrite
	if err := s.Set(ctx, "k1", []byte("v2"), 0); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "k1")
	if string(got) != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	got, err := s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %q", got)
	}
	ok, err := s.Exists(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("expected missing key to not exist, got %v %v", ok, err)
	}
}

func testEmptyValue(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if err := s.Set(ctx, "marker", nil, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "marker")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected non-nil empty value, got %#v", got)
	}
	ok, err := s.Exists(ctx, "marker")
	if err != nil || !ok {
		t.Fatalf("expected marker to exist, got %v %v", ok, err)
	}
}

func testTTLExpiry(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	if err := s.Set(ctx, "short", []byte("x"), 150*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, _ := s.Exists(ctx, "short"); !ok {
		t.Fatal("expected key to exist before ttl")
	}
	time.Sleep(400 * time.Millisecond)
	if ok, _ := s.Exists(ctx, "short"); ok {
		t.Fatal("expected key to expire")
	}
	if got, _ := s.Get(ctx, "short"); got != nil {
		t.Fatalf("expected nil after expiry, got %q", got)
	}
}

func testSetNX(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	ok, err := s.SetNX(ctx, "once", []byte("a"), 0)
	if err != nil || !ok {
		t.Fatalf("first setnx: %v %v", ok, err)
	}
	ok, err = s.SetNX(ctx, "once", []byte("b"), 0)
	if err != nil || ok {
		t.Fatalf("second setnx should fail: %v %v", ok, err)
	}
	got, _ := s.Get(ctx, "once")
	if string(got) != "a" {
		t.Fatalf("setnx overwrote value: %q", got)
	}
}

func testDeleteMany(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	for _, k := range []string{"d1", "d2", "d3"} {
		_ = s.Set(ctx, k, []byte(k), 0)
	}
	if err := s.Delete(ctx, "d1", "d2", "never-there"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for k, want := range map[string]bool{"d1": false, "d2": false, "d3": true} {
		if ok, _ := s.Exists(ctx, k); ok != want {
			t.Fatalf("exists(%s)=%v want %v", k, ok, want)
		}
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("delete with no keys: %v", err)
	}
}

func testExpire(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	ok, err := s.Expire(ctx, "nope", time.Second)
	if err != nil || ok {
		t.Fatalf("expire on missing key: %v %v", ok, err)
	}
	_ = s.Set(ctx, "e", []byte("x"), 0)
	ok, err = s.Expire(ctx, "e", 150*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expire: %v %v", ok, err)
	}
	time.Sleep(400 * time.Millisecond)
	if ok, _ := s.Exists(ctx, "e"); ok {
		t.Fatal("expected key to expire after Expire")
	}
}

func testMGetPartial(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	_ = s.Set(ctx, "m1", []byte("one"), 0)
	_ = s.Set(ctx, "m3", []byte("three"), 0)
	got, err := s.MGet(ctx, "m1", "m2", "m3")
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if string(got[0]) != "one" || got[1] != nil || string(got[2]) != "three" {
		t.Fatalf("unexpected mget result %q", got)
	}
	empty, err := s.MGet(ctx)
	if err != nil || len(empty) != 0 {
		t.Fatalf("mget with no keys: %v %v", empty, err)
	}
}

func testScanPattern(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	for _, k := range []string{"request:alice:bob", "request:alice:carol", "request:bob:alice", "request:al*ce:x", "party:1"} {
		_ = s.Set(ctx, k, nil, 0)
	}
	got, err := s.Scan(ctx, "request:alice:*")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []string{"request:alice:bob", "request:alice:carol"}) {
		t.Fatalf("unexpected scan result %v", got)
	}
	got, err = s.Scan(ctx, `request:al\*ce:*`)
	if err != nil {
		t.Fatalf("scan escaped: %v", err)
	}
	if !slices.Equal(got, []string{"request:al*ce:x"}) {
		t.Fatalf("escaped pattern should match literally, got %v", got)
	}
	got, _ = s.Scan(ctx, "nothing:*")
	if len(got) != 0 {
		t.Fatalf("expected no keys, got %v", got)
	}
}

func testMutateLifecycle(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	err := s.Mutate(ctx, "counter", func(cur []byte) ([]byte, error) {
		if cur != nil {
			t.Errorf("expected nil current value for absent key, got %q", cur)
		}
		return []byte("1"), nil
	})
	if err != nil {
		t.Fatalf("mutate create: %v", err)
	}
	err = s.Mutate(ctx, "counter", func(cur []byte) ([]byte, error) {
		if string(cur) != "1" {
			t.Errorf("expected 1, got %q", cur)
		}
		return []byte("2"), nil
	})
	if err != nil {
		t.Fatalf("mutate update: %v", err)
	}
	if got, _ := s.Get(ctx, "counter"); string(got) != "2" {
		t.Fatalf("expected 2, got %q", got)
	}
	if err := s.Mutate(ctx, "counter", func([]byte) ([]byte, error) { return nil, nil }); err != nil {
		t.Fatalf("mutate delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "counter"); ok {
		t.Fatal("expected key deleted by mutate")
	}
}

func testMutateSkipAndError(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	_ = s.Set(ctx, "k", []byte("orig"), 0)

	if err := s.Mutate(ctx, "k", func([]byte) ([]byte, error) { return []byte("x"), kv.ErrSkip }); err != nil {
		t.Fatalf("skip should return nil, got %v", err)
	}
	boom := errors.New("boom")
	if err := s.Mutate(ctx, "k", func([]byte) ([]byte, error) { return []byte("x"), boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error to pass through, got %v", err)
	}
	if got, _ := s.Get(ctx, "k"); !bytes.Equal(got, []byte("orig")) {
		t.Fatalf("value must be unchanged, got %q", got)
	}
}

func testMutatePreservesTTL(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	_ = s.Set(ctx, "ttl", []byte("a"), 200*time.Millisecond)
	if err := s.Mutate(ctx, "ttl", func([]byte) ([]byte, error) { return []byte("b"), nil }); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	time.Sleep(450 * time.Millisecond)
	if ok, _ := s.Exists(ctx, "ttl"); ok {
		t.Fatal("mutate must keep the existing ttl")
	}
}

func testMutateConcurrent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				err := s.Mutate(ctx, "shared", func(cur []byte) ([]byte, error) {
					n := 0
					if cur != nil {
						n, _ = strconv.Atoi(string(cur))
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	failed := 0
	for err := range errs {
		if !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("unexpected mutate error: %v", err)
		}
		failed++
	}
	got, _ := s.Get(ctx, "shared")
	n, _ := strconv.Atoi(string(got))
	// Every successful mutation must be reflected: no lost updates.
	if n != writers*perWriter-failed {
		t.Fatalf("lost updates: counter=%d, successful=%d", n, writers*perWriter-failed)
	}
}
