package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidStatus = errors.New("invalid booking status")

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Booking is an appointment on one date. Cancelled bookings are retained but
// never occupy time.
type Booking struct {
	ID              string    `json:"id"`
	Date            Date      `json:"date"`
	Time            Clock     `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	ServiceID       string    `json:"service_id,omitempty"`
	CustomerName    string    `json:"customer_name,omitempty"`
	CustomerPhone   string    `json:"customer_phone,omitempty"`
	CustomerEmail   string    `json:"customer_email,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Active reports whether the booking occupies its interval.
func (b *Booking) Active() bool {
	return b.Status != StatusCancelled
}

func (b *Booking) Interval() Interval {
	return NewInterval(b.Time, b.DurationMinutes)
}

func (b *Booking) End() Clock {
	return b.Time.Add(b.DurationMinutes)
}

func (b *Booking) Ref() *BookingRef {
	return &BookingRef{
		ID:              b.ID,
		Date:            b.Date,
		Time:            b.Time,
		DurationMinutes: b.DurationMinutes,
	}
}

func (b *Booking) Validate() error {
	if b.ID == "" {
		return errors.New("booking id is required")
	}
	if !b.Date.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDate, b.Date)
	}
	if b.DurationMinutes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, b.DurationMinutes)
	}
	if !b.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, b.Status)
	}
	return nil
}

// BookingRef identifies the booking a proposal collides with.
type BookingRef struct {
	ID              string `json:"id"`
	Date            Date   `json:"date"`
	Time            Clock  `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Service is read-only catalog data used to size slots.
type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}
