// Package settings is the per-player preference store. Preferences are
// booleans keyed by Kind and default to enabled for players who never
// changed them.
package settings

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Kind names one player preference.
type Kind string

// Notifications controls whether a player sees non-essential party
// notifications such as members joining and leaving.
const Notifications Kind = "notifications"

// Kinds lists every known preference.
func Kinds() []Kind { return []Kind{Notifications} }

// ParseKind resolves a preference name case-insensitively.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// Store persists player preferences.
type Store interface {
	// SettingValue returns the player's preference, true when unset.
	SettingValue(ctx context.Context, player uuid.UUID, kind Kind) (bool, error)

	// ToggleSetting stores value as the player's preference.
	ToggleSetting(ctx context.Context, player uuid.UUID, kind Kind, value bool) error

	// PlayersWithEnabledSetting filters players down to those with kind
	// enabled, preserving order.
	PlayersWithEnabledSetting(ctx context.Context, players []uuid.UUID, kind Kind) ([]uuid.UUID, error)

	Close() error
}
