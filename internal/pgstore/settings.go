package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aethercore/aether/internal/errs"
	"github.com/aethercore/aether/internal/settings"
)

// SettingsStore implements settings.Store against a single-row Postgres
// table holding the serialized AppSettings document.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore wraps an open pool as a settings.Store.
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context) (settings.AppSettings, error) {
	var raw []byte
	row := s.db.QueryRowContext(ctx, `SELECT document FROM app_settings WHERE id = 1`)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return settings.AppSettings{}, errs.NotFound("no settings override document")
		}
		return settings.AppSettings{}, fmt.Errorf("pgstore: get settings: %w", err)
	}
	var out settings.AppSettings
	if err := json.Unmarshal(raw, &out); err != nil {
		return settings.AppSettings{}, fmt.Errorf("pgstore: unmarshal settings: %w", err)
	}
	return out, nil
}

func (s *SettingsStore) Put(ctx context.Context, doc settings.AppSettings) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("pgstore: marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_settings (id, document) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document
	`, raw)
	if err != nil {
		return fmt.Errorf("pgstore: put settings: %w", err)
	}
	return nil
}
