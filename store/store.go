// Package store persists turret calibration in a local SQLite file.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vppturret/turret"
)

const schema = `
CREATE TABLE IF NOT EXISTS calibration (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	forward_x     INTEGER NOT NULL,
	forward_y     INTEGER NOT NULL,
	x_speed_scale REAL    NOT NULL,
	y_speed_scale REAL    NOT NULL,
	updated_at    TEXT    NOT NULL
);
`

// Store is a CalibrationStore backed by a single-row SQLite table.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; busy_timeout covers a concurrent reader.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored calibration. The second return is false when
// no calibration has been saved yet.
func (s *Store) Load() (turret.Calibration, bool, error) {
	var cal turret.Calibration
	row := s.db.QueryRow(`
		SELECT forward_x, forward_y, x_speed_scale, y_speed_scale
		FROM calibration WHERE id = 1`)
	err := row.Scan(&cal.Forward.X, &cal.Forward.Y, &cal.XSpeedScale, &cal.YSpeedScale)
	if errors.Is(err, sql.ErrNoRows) {
		return turret.Calibration{}, false, nil
	}
	if err != nil {
		return turret.Calibration{}, false, fmt.Errorf("load calibration: %w", err)
	}
	return cal, true, nil
}

// Save upserts the single calibration row.
func (s *Store) Save(cal turret.Calibration) error {
	_, err := s.db.Exec(`
		INSERT INTO calibration (id, forward_x, forward_y, x_speed_scale, y_speed_scale, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			forward_x     = excluded.forward_x,
			forward_y     = excluded.forward_y,
			x_speed_scale = excluded.x_speed_scale,
			y_speed_scale = excluded.y_speed_scale,
			updated_at    = excluded.updated_at`,
		cal.Forward.X, cal.Forward.Y, cal.XSpeedScale, cal.YSpeedScale,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}
