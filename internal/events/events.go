package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bronivik/bronivik_schedule/internal/model"
)

// Type is the event topic.
type Type string

const (
	BookingAdded        Type = "booking-added"
	BookingUpdated      Type = "booking-updated"
	BookingDeleted      Type = "booking-deleted"
	WorkingHoursAdded   Type = "working-hours-added"
	WorkingHoursUpdated Type = "working-hours-updated"
	WorkingHoursDeleted Type = "working-hours-deleted"
)

// Types lists every topic in a stable order.
var Types = []Type{
	BookingAdded, BookingUpdated, BookingDeleted,
	WorkingHoursAdded, WorkingHoursUpdated, WorkingHoursDeleted,
}

var ErrUnknownType = errors.New("unknown event type")

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a mutation of bookings or working hours. Upserts carry the full
// entity, deletions only the key.
type Event struct {
	ID        string                    `json:"id"`
	Type      Type                      `json:"type"`
	Booking   *model.Booking            `json:"booking,omitempty"`
	BookingID string                    `json:"booking_id,omitempty"`
	Policy    *model.WorkingHoursPolicy `json:"policy,omitempty"`
	Date      model.Date                `json:"date,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

func newEvent(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, CreatedAt: time.Now()}
}

// NewBookingEvent builds a booking-added or booking-updated event.
func NewBookingEvent(t Type, b model.Booking) Event {
	e := newEvent(t)
	e.Booking = &b
	e.BookingID = b.ID
	return e
}

func NewBookingDeleted(id string) Event {
	e := newEvent(BookingDeleted)
	e.BookingID = id
	return e
}

// NewWorkingHoursEvent builds a working-hours-added or -updated event.
func NewWorkingHoursEvent(t Type, p model.WorkingHoursPolicy) Event {
	e := newEvent(t)
	e.Policy = &p
	e.Date = p.Date
	return e
}

func NewWorkingHoursDeleted(date model.Date) Event {
	e := newEvent(WorkingHoursDeleted)
	e.Date = date
	return e
}

// Encode serializes the event envelope.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Booking   json.RawMessage `json:"booking"`
	BookingID json.RawMessage `json:"booking_id"`
	Policy    json.RawMessage `json:"policy"`
	Date      string          `json:"date"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode parses an envelope. When fallbackType is set it is used for
// envelopes that carry no type of their own (e.g. the type travels in a
// transport header). Entities go through model normalization, so producers
// with legacy field names are accepted.
func Decode(data []byte, fallbackType Type) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if env.Type == "" {
		env.Type = fallbackType
	}
	if !env.Type.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	e := Event{ID: env.ID, Type: env.Type, CreatedAt: env.CreatedAt}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	switch e.Type {
	case BookingAdded, BookingUpdated:
		if len(env.Booking) == 0 {
			return Event{}, fmt.Errorf("%s: booking payload is required", e.Type)
		}
		b, err := model.DecodeBooking(env.Booking)
		if err != nil {
			return Event{}, fmt.Errorf("%s: %w", e.Type, err)
		}
		e.Booking = &b
		e.BookingID = b.ID

	case BookingDeleted:
		id, err := decodeID(env.BookingID)
		if err != nil {
			return Event{}, err
		}
		if id == "" && len(env.Booking) > 0 {
			var ref struct {
				ID json.RawMessage `json:"id"`
			}
			if err := json.Unmarshal(env.Booking, &ref); err == nil {
				id, _ = decodeID(ref.ID)
			}
		}
		if id == "" {
			return Event{}, fmt.Errorf("%s: booking_id is required", e.Type)
		}
		e.BookingID = id

	case WorkingHoursAdded, WorkingHoursUpdated:
		if len(env.Policy) == 0 {
			return Event{}, fmt.Errorf("%s: policy payload is required", e.Type)
		}
		p, err := model.DecodePolicy(env.Policy)
		if err != nil {
			return Event{}, fmt.Errorf("%s: %w", e.Type, err)
		}
		e.Policy = &p
		e.Date = p.Date

	case WorkingHoursDeleted:
		date := env.Date
		if date == "" && len(env.Policy) > 0 {
			var ref struct {
				Date string `json:"date"`
			}
			if err := json.Unmarshal(env.Policy, &ref); err == nil {
				date = ref.Date
			}
		}
		d, err := model.ParseDate(date)
		if err != nil {
			return Event{}, fmt.Errorf("%s: %w", e.Type, err)
		}
		e.Date = d
	}

	return e, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("booking_id: expected string or number")
	}
	return n.String(), nil
}

// Publisher fans an event out to other operators.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Source delivers events into out until ctx ends or the channel breaks.
// ready is called once the subscription is live.
type Source interface {
	Run(ctx context.Context, out chan<- Event, ready func()) error
}
