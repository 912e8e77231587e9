package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Well-known runtime flag names.
const (
	FlagKillSwitch = "kill_switch"
)

// SetFlag upserts a runtime flag value.
func (s *Store) SetFlag(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_flags (name, value, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms
	`, name, value, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("set flag %s: %w", name, err)
	}
	return nil
}

// GetFlag returns a runtime flag value and whether it has been set.
func (s *Store) GetFlag(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM runtime_flags WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get flag %s: %w", name, err)
	}
	return value, true, nil
}
