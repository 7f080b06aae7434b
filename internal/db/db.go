package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSlotTaken is returned when an active booking already holds the
	// requested interval.
	ErrSlotTaken = errors.New("slot already taken")
)

// DB wraps sql.DB for the schedule service.
type DB struct {
	*sql.DB
}

// NewDB opens the database at path and runs migrations. Write transactions
// take the database lock up front so concurrent bookings serialize.
func NewDB(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
			status TEXT NOT NULL DEFAULT 'pending',
			service_id TEXT,
			customer_name TEXT NOT NULL DEFAULT '',
			customer_phone TEXT NOT NULL DEFAULT '',
			customer_email TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,

		`CREATE TABLE IF NOT EXISTS working_hours_overrides (
			date TEXT PRIMARY KEY,
			is_working_day BOOLEAN NOT NULL DEFAULT 1,
			start_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			breaks TEXT NOT NULL DEFAULT '[]',
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Single row.
		`CREATE TABLE IF NOT EXISTS default_pattern (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			working_weekdays TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		// Last line of defence against double booking of one start time.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_slot
			ON bookings(date, time) WHERE status != 'cancelled'`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
