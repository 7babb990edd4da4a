// Package memorysettings keeps player preferences in process memory.
package memorysettings

import (
	"context"
	"sync"

	"github.com/ggoodman/partymesh/settings"
	"github.com/google/uuid"
)

type key struct {
	player uuid.UUID
	kind   settings.Kind
}

// Store implements settings.Store with a map.
type Store struct {
	mu     sync.RWMutex
	values map[key]bool
}

// New creates an empty store.
func New() *Store {
	return &Store{values: make(map[key]bool)}
}

func (s *Store) SettingValue(ctx context.Context, player uuid.UUID, kind settings.Kind) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key{player, kind}]
	return v || !ok, nil
}

func (s *Store) ToggleSetting(ctx context.Context, player uuid.UUID, kind settings.Kind, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key{player, kind}] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) PlayersWithEnabledSetting(ctx context.Context, players []uuid.UUID, kind settings.Kind) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(players))
	for _, id := range players {
		if v, ok := s.values[key{id, kind}]; v || !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

// Compile-time interface check
var _ settings.Store = (*Store)(nil)
