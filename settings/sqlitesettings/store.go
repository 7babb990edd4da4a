// Package sqlitesettings persists player preferences in SQLite.
package sqlitesettings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ggoodman/partymesh/settings"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS party_settings (
  unique_id TEXT NOT NULL,
  kind      TEXT NOT NULL,
  enabled   INTEGER NOT NULL,
  PRIMARY KEY (unique_id, kind)
)`

// Store persists preferences in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the settings database at path. ":memory:"
// opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Writes serialize in SQLite anyway, and one connection keeps an
	// in-memory database from splitting per connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) SettingValue(ctx context.Context, player uuid.UUID, kind settings.Kind) (bool, error) {
	var enabled bool
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT enabled FROM party_settings WHERE unique_id = ? AND kind = ?`,
		player.String(), string(kind),
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get setting: %w", err)
	}
	return enabled, nil
}

func (s *Store) ToggleSetting(ctx context.Context, player uuid.UUID, kind settings.Kind, value bool) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO party_settings (unique_id, kind, enabled) VALUES (?, ?, ?)
		 ON CONFLICT (unique_id, kind) DO UPDATE SET enabled = excluded.enabled`,
		player.String(), string(kind), value,
	)
	if err != nil {
		return fmt.Errorf("toggle setting: %w", err)
	}
	return nil
}

func (s *Store) PlayersWithEnabledSetting(ctx context.Context, players []uuid.UUID, kind settings.Kind) ([]uuid.UUID, error) {
	if len(players) == 0 {
		return []uuid.UUID{}, nil
	}
	args := make([]any, 0, len(players)+1)
	args = append(args, string(kind))
	for _, id := range players {
		args = append(args, id.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(players)), ",")
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT unique_id FROM party_settings WHERE kind = ? AND enabled = 0 AND unique_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query disabled players: %w", err)
	}
	defer rows.Close()

	disabled := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan disabled player: %w", err)
		}
		disabled[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disabled players: %w", err)
	}

	out := make([]uuid.UUID, 0, len(players))
	for _, id := range players {
		if _, off := disabled[id.String()]; !off {
			out = append(out, id)
		}
	}
	return out, nil
}

// Compile-time interface check
var _ settings.Store = (*Store)(nil)
