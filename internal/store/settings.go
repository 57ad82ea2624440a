package store

import (
	"context"

	"github.com/fatturaanalyzer/reconciler/internal/core"
)

// GetSetting reads one override from the settings table, falling back
// to "" if absent so callers apply their own default.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM settings WHERE key = $1`
	var value string
	err := s.pool.QueryRow(ctx, q, key).Scan(&value)
	if err != nil {
		return "", nil
	}
	return value, nil
}

// PutSetting upserts a single override. No engine component reads the
// settings table; the engine knobs come from internal/config.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return core.Internal("put setting", err)
	}
	return nil
}

// ListSettings returns every persisted override.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	const q = `SELECT key, value FROM settings`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, core.Internal("list settings", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, core.Internal("scan setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate settings", err)
	}
	return out, nil
}
