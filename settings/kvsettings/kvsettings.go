// Package kvsettings keeps player preferences in the shared kv.Store, so
// every node sees the same opt-ins. Each preference is one key holding "0"
// or "1"; a missing key means enabled.
package kvsettings

import (
	"context"

	"github.com/ggoodman/partymesh/kv"
	"github.com/ggoodman/partymesh/party"
	"github.com/ggoodman/partymesh/settings"
	"github.com/google/uuid"
)

var (
	enabled  = []byte("1")
	disabled = []byte("0")
)

// Store implements settings.Store on top of a kv.Store it does not own.
type Store struct {
	kv   kv.Store
	keys party.Keys
}

// New creates a Store writing under keys.
func New(store kv.Store, keys party.Keys) *Store {
	return &Store{kv: store, keys: keys}
}

func (s *Store) SettingValue(ctx context.Context, player uuid.UUID, kind settings.Kind) (bool, error) {
	b, err := s.kv.Get(ctx, s.keys.Setting(player, string(kind)))
	if err != nil {
		return false, party.WrapStore("get setting", err)
	}
	return isEnabled(b), nil
}

func (s *Store) ToggleSetting(ctx context.Context, player uuid.UUID, kind settings.Kind, value bool) error {
	v := disabled
	if value {
		v = enabled
	}
	return party.WrapStore("set setting", s.kv.Set(ctx, s.keys.Setting(player, string(kind)), v, 0))
}

func (s *Store) PlayersWithEnabledSetting(ctx context.Context, players []uuid.UUID, kind settings.Kind) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(players))
	if len(players) == 0 {
		return out, nil
	}
	keys := make([]string, len(players))
	for i, id := range players {
		keys[i] = s.keys.Setting(id, string(kind))
	}
	values, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, party.WrapStore("get settings", err)
	}
	for i, id := range players {
		if isEnabled(values[i]) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Close is a no-op; the kv.Store belongs to the caller.
func (s *Store) Close() error { return nil }

// isEnabled treats anything but an explicit "0" as enabled.
func isEnabled(b []byte) bool {
	return string(b) != string(disabled)
}

// Compile-time interface check
var _ settings.Store = (*Store)(nil)
