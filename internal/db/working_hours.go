package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bronivik/bronivik_schedule/internal/model"
)

func scanOverride(row rowScanner) (model.WorkingHoursPolicy, error) {
	var (
		p                model.WorkingHoursPolicy
		start, end, brks string
	)
	if err := row.Scan(&p.Date, &p.IsWorkingDay, &start, &end, &brks, &p.Notes); err != nil {
		return model.WorkingHoursPolicy{}, err
	}

	var err error
	if start != "" {
		if p.StartTime, err = model.ParseClock(start); err != nil {
			return model.WorkingHoursPolicy{}, err
		}
	}
	if end != "" {
		if p.EndTime, err = model.ParseClock(end); err != nil {
			return model.WorkingHoursPolicy{}, err
		}
	}
	if err := json.Unmarshal([]byte(brks), &p.Breaks); err != nil {
		return model.WorkingHoursPolicy{}, fmt.Errorf("decode breaks for %s: %w", p.Date, err)
	}
	return p, nil
}

// GetOverride returns the override for date, or nil when none is stored.
func (db *DB) GetOverride(ctx context.Context, date model.Date) (*model.WorkingHoursPolicy, error) {
	row := db.QueryRowContext(ctx, `
		SELECT date, is_working_day, start_time, end_time, breaks, notes
		FROM working_hours_overrides WHERE date = ?`, date)
	p, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override %s: %w", date, err)
	}
	return &p, nil
}

func (db *DB) ListOverrides(ctx context.Context, from, to model.Date) ([]model.WorkingHoursPolicy, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT date, is_working_day, start_time, end_time, breaks, notes
		FROM working_hours_overrides
		WHERE date >= ? AND date <= ?
		ORDER BY date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var out []model.WorkingHoursPolicy
	for rows.Next() {
		p, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) UpsertOverride(ctx context.Context, p model.WorkingHoursPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	breaks := p.Breaks
	if breaks == nil {
		breaks = []model.Break{}
	}
	encoded, err := json.Marshal(breaks)
	if err != nil {
		return fmt.Errorf("encode breaks: %w", err)
	}

	var start, end string
	if p.IsWorkingDay {
		start, end = p.StartTime.String(), p.EndTime.String()
	}

	now := time.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO working_hours_overrides (date, is_working_day, start_time, end_time, breaks, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			is_working_day = excluded.is_working_day,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			breaks = excluded.breaks,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		p.Date, p.IsWorkingDay, start, end, string(encoded), p.Notes, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert override %s: %w", p.Date, err)
	}
	return nil
}

func (db *DB) DeleteOverride(ctx context.Context, date model.Date) error {
	res, err := db.ExecContext(ctx, `DELETE FROM working_hours_overrides WHERE date = ?`, date)
	if err != nil {
		return fmt.Errorf("delete override %s: %w", date, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("override %s: %w", date, ErrNotFound)
	}
	return nil
}

// GetDefaultPattern returns the stored pattern, or the built-in Monday to
// Friday pattern when none was saved yet.
func (db *DB) GetDefaultPattern(ctx context.Context) (model.DefaultPattern, error) {
	var weekdays, start, end string
	err := db.QueryRowContext(ctx,
		`SELECT working_weekdays, start_time, end_time FROM default_pattern WHERE id = 1`,
	).Scan(&weekdays, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultWorkingPattern(), nil
	}
	if err != nil {
		return model.DefaultPattern{}, fmt.Errorf("get default pattern: %w", err)
	}

	var p model.DefaultPattern
	if err := json.Unmarshal([]byte(weekdays), &p.WorkingWeekdays); err != nil {
		return model.DefaultPattern{}, fmt.Errorf("decode weekdays: %w", err)
	}
	if p.StartTime, err = model.ParseClock(start); err != nil {
		return model.DefaultPattern{}, err
	}
	if p.EndTime, err = model.ParseClock(end); err != nil {
		return model.DefaultPattern{}, err
	}
	return p, nil
}

func (db *DB) SaveDefaultPattern(ctx context.Context, p model.DefaultPattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	weekdays := p.WorkingWeekdays
	if weekdays == nil {
		weekdays = []time.Weekday{}
	}
	encoded, err := json.Marshal(weekdays)
	if err != nil {
		return fmt.Errorf("encode weekdays: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO default_pattern (id, working_weekdays, start_time, end_time, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			working_weekdays = excluded.working_weekdays,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			updated_at = excluded.updated_at`,
		string(encoded), p.StartTime, p.EndTime, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save default pattern: %w", err)
	}
	return nil
}
