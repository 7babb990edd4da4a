package memorykv

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/kv/kvtest"
)

func TestMemoryStore(t *testing.T) {
	kvtest.RunStoreTests(t, func(t *testing.T) kv.Store {
		s := New(WithSweepInterval(50 * time.Millisecond))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSweepRemovesExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	s := New(WithClock(clock), WithSweepInterval(0))
	defer s.Close()

	ctx := context.Background()
	_ = s.Set(ctx, "a", []byte("x"), time.Second)
	_ = s.Set(ctx, "b", []byte("y"), 0)
	if s.Len() != 2 {
		t.Fatalf("expected 2 live keys, got %d", s.Len())
	}
	now = now.Add(2 * time.Second)
	if s.Len() != 1 {
		t.Fatalf("expected 1 live key after expiry, got %d", s.Len())
	}
	if got, _ := s.Scan(ctx, "*"); len(got) != 1 || got[0] != "b" {
		t.Fatalf("scan must skip expired keys, got %v", got)
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"*", "a:b/c", true},
		{"request:alice:*", "request:alice:bob", true},
		{"request:alice:*", "request:alicia:bob", false},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h[ae]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{`a\*b`, "a*b", true},
		{`a\*b`, "axb", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
	}
	for _, tc := range tests {
		if got := matchGlob(tc.pattern, tc.s); got != tc.want {
			t.Errorf("matchGlob(%q, %q)=%v want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}
