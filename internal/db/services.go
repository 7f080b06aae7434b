package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bronivik/bronivik_schedule/internal/model"
)

func (db *DB) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, duration_minutes FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.DurationMinutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) GetService(ctx context.Context, id string) (*model.Service, error) {
	var s model.Service
	err := db.QueryRowContext(ctx,
		`SELECT id, name, duration_minutes FROM services WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.DurationMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("service %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get service %s: %w", id, err)
	}
	return &s, nil
}

// UpsertService keeps created_at of an existing row.
func (db *DB) UpsertService(ctx context.Context, s model.Service) error {
	if s.ID == "" {
		return errors.New("service id is required")
	}
	if s.DurationMinutes <= 0 {
		return fmt.Errorf("%w: service %s has %d", model.ErrInvalidDuration, s.ID, s.DurationMinutes)
	}

	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO services (id, name, duration_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			duration_minutes = excluded.duration_minutes,
			updated_at = excluded.updated_at`,
		s.ID, s.Name, s.DurationMinutes, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert service %s: %w", s.ID, err)
	}
	return nil
}
