package motion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store persists compensation settings across restarts.
type Store interface {
	// Load returns the saved settings. ok is false if nothing was saved.
	Load(ctx context.Context) (s Settings, ok bool, err error)
	Save(ctx context.Context, s Settings) error
}

// SQLiteStore keeps settings in the single-row motion_settings table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over db. The motion_settings table must exist.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Settings, bool, error) {
	var (
		mode string
		out  Settings
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT mode, window_size, process_noise, observation_noise
		FROM motion_settings WHERE id = 1
	`).Scan(&mode, &out.Window, &out.ProcessNoise, &out.ObservationNoise)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("loading motion settings: %w", err)
	}

	out.Mode, err = ParseMode(mode)
	if err != nil {
		return Settings{}, false, fmt.Errorf("loading motion settings: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Settings{}, false, fmt.Errorf("loading motion settings: %w", err)
	}
	return out, true, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO motion_settings (id, mode, window_size, process_noise, observation_noise, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			window_size = excluded.window_size,
			process_noise = excluded.process_noise,
			observation_noise = excluded.observation_noise,
			updated_at = excluded.updated_at
	`,
		settings.Mode.String(),
		settings.Window,
		settings.ProcessNoise,
		settings.ObservationNoise,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving motion settings: %w", err)
	}
	return nil
}
