package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Producers disagree on field names (duration under several keys, camelCase
// vs snake_case, "canceled" vs "cancelled"). DecodeBooking and DecodePolicy
// fold every known spelling into the canonical entity.

var (
	bookingDurationKeys = []string{"duration_minutes", "durationMinutes", "duration", "service_duration", "serviceDuration"}
	bookingTimeKeys     = []string{"time", "start_time", "startTime"}
	bookingServiceKeys  = []string{"service_id", "serviceId"}
	bookingNameKeys     = []string{"customer_name", "customerName", "client_name"}
	bookingPhoneKeys    = []string{"customer_phone", "customerPhone", "client_phone"}
	bookingEmailKeys    = []string{"customer_email", "customerEmail"}
	bookingCreatedKeys  = []string{"created_at", "createdAt"}
	bookingUpdatedKeys  = []string{"updated_at", "updatedAt"}

	policyWorkingKeys = []string{"is_working_day", "isWorkingDay"}
	policyStartKeys   = []string{"start_time", "startTime"}
	policyEndKeys     = []string{"end_time", "endTime"}
)

type rawObject map[string]json.RawMessage

func (r rawObject) lookup(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func (r rawObject) str(keys ...string) (string, error) {
	raw, ok := r.lookup(keys...)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	// Numeric ids from legacy producers.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("field %s: expected string", keys[0])
	}
	return n.String(), nil
}

func (r rawObject) integer(keys ...string) (int, bool, error) {
	raw, ok := r.lookup(keys...)
	if !ok {
		return 0, false, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, true, fmt.Errorf("field %s: expected integer", keys[0])
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, true, fmt.Errorf("field %s: expected integer", keys[0])
	}
	return n, true, nil
}

func (r rawObject) boolean(keys ...string) (bool, error) {
	raw, ok := r.lookup(keys...)
	if !ok {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("field %s: expected boolean", keys[0])
	}
	return b, nil
}

func (r rawObject) timestamp(keys ...string) time.Time {
	raw, ok := r.lookup(keys...)
	if !ok {
		return time.Time{}
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}
	}
	return t
}

// NormalizeStatus maps producer spellings onto Status.
func NormalizeStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pending":
		return StatusPending, nil
	case "confirmed", "approved":
		return StatusConfirmed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// DecodeBooking decodes a booking from any known producer shape and
// validates it.
func DecodeBooking(data []byte) (Booking, error) {
	var raw rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return Booking{}, fmt.Errorf("decode booking: %w", err)
	}

	var (
		b   Booking
		err error
	)
	if b.ID, err = raw.str("id", "booking_id", "bookingId"); err != nil {
		return Booking{}, err
	}

	date, err := raw.str("date")
	if err != nil {
		return Booking{}, err
	}
	if b.Date, err = ParseDate(date); err != nil {
		return Booking{}, err
	}

	start, err := raw.str(bookingTimeKeys...)
	if err != nil {
		return Booking{}, err
	}
	if b.Time, err = ParseClock(start); err != nil {
		return Booking{}, err
	}

	duration, ok, err := raw.integer(bookingDurationKeys...)
	if err != nil {
		return Booking{}, err
	}
	if !ok {
		return Booking{}, fmt.Errorf("%w: missing", ErrInvalidDuration)
	}
	b.DurationMinutes = duration

	status, err := raw.str("status")
	if err != nil {
		return Booking{}, err
	}
	if b.Status, err = NormalizeStatus(status); err != nil {
		return Booking{}, err
	}

	if b.ServiceID, err = raw.str(bookingServiceKeys...); err != nil {
		return Booking{}, err
	}
	if b.CustomerName, err = raw.str(bookingNameKeys...); err != nil {
		return Booking{}, err
	}
	if b.CustomerPhone, err = raw.str(bookingPhoneKeys...); err != nil {
		return Booking{}, err
	}
	if b.CustomerEmail, err = raw.str(bookingEmailKeys...); err != nil {
		return Booking{}, err
	}
	if b.Notes, err = raw.str("notes", "comment"); err != nil {
		return Booking{}, err
	}
	b.CreatedAt = raw.timestamp(bookingCreatedKeys...)
	b.UpdatedAt = raw.timestamp(bookingUpdatedKeys...)

	if err := b.Validate(); err != nil {
		return Booking{}, err
	}
	return b, nil
}

// DecodePolicy decodes a working-hours override from any known producer
// shape and validates it.
func DecodePolicy(data []byte) (WorkingHoursPolicy, error) {
	var raw rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return WorkingHoursPolicy{}, fmt.Errorf("decode working hours: %w", err)
	}

	var (
		p   WorkingHoursPolicy
		err error
	)
	date, err := raw.str("date")
	if err != nil {
		return WorkingHoursPolicy{}, err
	}
	if p.Date, err = ParseDate(date); err != nil {
		return WorkingHoursPolicy{}, err
	}
	if p.IsWorkingDay, err = raw.boolean(policyWorkingKeys...); err != nil {
		return WorkingHoursPolicy{}, err
	}
	if p.Notes, err = raw.str("notes", "reason"); err != nil {
		return WorkingHoursPolicy{}, err
	}

	if start, err := raw.str(policyStartKeys...); err != nil {
		return WorkingHoursPolicy{}, err
	} else if start != "" {
		if p.StartTime, err = ParseClock(start); err != nil {
			return WorkingHoursPolicy{}, err
		}
	}
	if end, err := raw.str(policyEndKeys...); err != nil {
		return WorkingHoursPolicy{}, err
	} else if end != "" {
		if p.EndTime, err = ParseClock(end); err != nil {
			return WorkingHoursPolicy{}, err
		}
	}

	if rawBreaks, ok := raw.lookup("breaks"); ok {
		var items []rawObject
		if err := json.Unmarshal(rawBreaks, &items); err != nil {
			return WorkingHoursPolicy{}, fmt.Errorf("field breaks: %w", err)
		}
		for _, item := range items {
			br, err := decodeBreak(item)
			if err != nil {
				return WorkingHoursPolicy{}, err
			}
			p.Breaks = append(p.Breaks, br)
		}
	}

	if err := p.Validate(); err != nil {
		return WorkingHoursPolicy{}, err
	}
	return p, nil
}

func decodeBreak(raw rawObject) (Break, error) {
	var br Break
	start, err := raw.str(policyStartKeys...)
	if err != nil {
		return Break{}, err
	}
	if br.StartTime, err = ParseClock(start); err != nil {
		return Break{}, err
	}
	end, err := raw.str(policyEndKeys...)
	if err != nil {
		return Break{}, err
	}
	if br.EndTime, err = ParseClock(end); err != nil {
		return Break{}, err
	}
	if br.Description, err = raw.str("description"); err != nil {
		return Break{}, err
	}
	return br, nil
}
