package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

const bookingColumns = `id, date, time, duration_minutes, status, service_id,
	customer_name, customer_phone, customer_email, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var (
		b         model.Booking
		serviceID sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.Date, &b.Time, &b.DurationMinutes, &b.Status, &serviceID,
		&b.CustomerName, &b.CustomerPhone, &b.CustomerEmail, &b.Notes, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.ServiceID = serviceID.String
	return b, nil
}

// checkFree rejects b when an active booking on the same date overlaps it.
// Runs inside the write transaction, which holds the database lock.
func checkFree(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	if !b.Active() {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE date = ? AND status != 'cancelled' AND id != ?
		ORDER BY rowid`,
		b.Date, b.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	var existing []model.Booking
	for rows.Next() {
		other, err := scanBooking(rows)
		if err != nil {
			return err
		}
		existing = append(existing, other)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	res, err := slots.CheckConflict(b.Date, b.Time, b.DurationMinutes, existing, b.ID)
	if err != nil {
		return err
	}
	if res.Conflict {
		return fmt.Errorf("%w: overlaps booking %s at %s", ErrSlotTaken, res.With.ID, res.With.Time)
	}
	return nil
}

// CreateBooking inserts b, assigning an id and timestamps when missing.
func (db *DB) CreateBooking(ctx context.Context, b *model.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = model.StatusPending
	}
	if err := b.Validate(); err != nil {
		return err
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := checkFree(ctx, tx, b); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Date, b.Time, b.DurationMinutes, b.Status, nullString(b.ServiceID),
		b.CustomerName, b.CustomerPhone, b.CustomerEmail, b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", ErrSlotTaken, b.Date, b.Time)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return tx.Commit()
}

// UpdateBooking overwrites the stored booking with the same id.
func (db *DB) UpdateBooking(ctx context.Context, b *model.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	b.UpdatedAt = time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := checkFree(ctx, tx, b); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET date = ?, time = ?, duration_minutes = ?, status = ?, service_id = ?,
		    customer_name = ?, customer_phone = ?, customer_email = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		b.Date, b.Time, b.DurationMinutes, b.Status, nullString(b.ServiceID),
		b.CustomerName, b.CustomerPhone, b.CustomerEmail, b.Notes, b.UpdatedAt, b.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", ErrSlotTaken, b.Date, b.Time)
		}
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, ErrNotFound)
	}

	var createdAt time.Time
	if err := tx.QueryRowContext(ctx, `SELECT created_at FROM bookings WHERE id = ?`, b.ID).Scan(&createdAt); err != nil {
		return fmt.Errorf("read booking %s: %w", b.ID, err)
	}
	b.CreatedAt = createdAt
	return tx.Commit()
}

func (db *DB) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return &b, nil
}

// ListBookings returns bookings in [from, to], insertion order within a day.
func (db *DB) ListBookings(ctx context.Context, from, to model.Date) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE date >= ? AND date <= ?
		ORDER BY date, rowid`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CancelBooking marks the booking cancelled; it stays stored.
func (db *DB) CancelBooking(ctx context.Context, id string) (*model.Booking, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`,
		model.StatusCancelled, time.Now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("cancel booking %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return db.GetBooking(ctx, id)
}

func (db *DB) DeleteBooking(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete booking %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return nil
}
