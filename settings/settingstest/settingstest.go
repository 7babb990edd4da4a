// Package settingstest provides a conformance suite for settings.Store
// implementations.
package settingstest

import (
	"context"
	"slices"
	"testing"

	"github.com/ggoodman/partymesh/settings"
	"github.com/google/uuid"
)

// StoreFactory creates a fresh, empty store for one subtest.
type StoreFactory func(t *testing.T) settings.Store

// RunStoreTests runs the complete settings.Store suite.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("DefaultsToEnabled", func(t *testing.T) {
		s := factory(t)
		v, err := s.SettingValue(context.Background(), uuid.New(), settings.Notifications)
		if err != nil || !v {
			t.Fatalf("expected enabled by default, got %v %v", v, err)
		}
	})
	t.Run("ToggleRoundTrip", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		id := uuid.New()
		if err := s.ToggleSetting(ctx, id, settings.Notifications, false); err != nil {
			t.Fatalf("toggle off: %v", err)
		}
		if v, _ := s.SettingValue(ctx, id, settings.Notifications); v {
			t.Fatal("expected disabled")
		}
		if err := s.ToggleSetting(ctx, id, settings.Notifications, true); err != nil {
			t.Fatalf("toggle on: %v", err)
		}
		if v, _ := s.SettingValue(ctx, id, settings.Notifications); !v {
			t.Fatal("expected enabled")
		}
	})
	t.Run("FilterEnabledPlayers", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		a, b, c := uuid.New(), uuid.New(), uuid.New()
		_ = s.ToggleSetting(ctx, b, settings.Notifications, false)
		_ = s.ToggleSetting(ctx, c, settings.Notifications, true)

		got, err := s.PlayersWithEnabledSetting(ctx, []uuid.UUID{a, b, c}, settings.Notifications)
		if err != nil {
			t.Fatalf("filter: %v", err)
		}
		if !slices.Equal(got, []uuid.UUID{a, c}) {
			t.Fatalf("expected [a c], got %v", got)
		}
		got, err = s.PlayersWithEnabledSetting(ctx, nil, settings.Notifications)
		if err != nil || len(got) != 0 {
			t.Fatalf("empty input: %v %v", got, err)
		}
	})
}
