package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"bronivik/bronivik_schedule/internal/db"
	"bronivik/bronivik_schedule/internal/events"
	"bronivik/bronivik_schedule/internal/metrics"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

var ErrConflict = errors.New("booking conflicts with the schedule")

// ConflictError carries what the proposal collided with.
type ConflictError struct {
	Result slots.ConflictResult
}

func (e *ConflictError) Error() string {
	switch {
	case e.Result.With != nil:
		return fmt.Sprintf("%s: overlaps booking %s at %s", ErrConflict, e.Result.With.ID, e.Result.With.Time)
	case e.Result.Break != nil:
		return fmt.Sprintf("%s: overlaps break %s-%s", ErrConflict, e.Result.Break.StartTime, e.Result.Break.EndTime)
	}
	return ErrConflict.Error()
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Repository persists bookings and working-hours overrides.
type Repository interface {
	CreateBooking(ctx context.Context, b *model.Booking) error
	UpdateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	CancelBooking(ctx context.Context, id string) (*model.Booking, error)
	DeleteBooking(ctx context.Context, id string) error
	GetOverride(ctx context.Context, date model.Date) (*model.WorkingHoursPolicy, error)
	UpsertOverride(ctx context.Context, p model.WorkingHoursPolicy) error
	DeleteOverride(ctx context.Context, date model.Date) error
}

// Catalog resolves service durations.
type Catalog interface {
	GetService(ctx context.Context, id string) (*model.Service, error)
}

// ConflictChecker runs the live conflict check.
type ConflictChecker interface {
	CheckConflict(ctx context.Context, date, start string, durationMinutes int, excludeID string) (slots.ConflictResult, error)
	CheckConflictWithBreaks(ctx context.Context, date, start string, durationMinutes int, excludeID string) (slots.ConflictResult, error)
}

// Applier merges an event into the local view.
type Applier interface {
	Apply(e events.Event) error
	RequestRecompute()
}

// Request describes a booking to create, or the fields to change on update.
// On update empty fields keep their stored value.
type Request struct {
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	ServiceID       string `json:"service_id"`
	Status          string `json:"status"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerEmail   string `json:"customer_email"`
	Notes           string `json:"notes"`
	// RespectBreaks also rejects proposals overlapping a break.
	RespectBreaks bool `json:"respect_breaks"`
}

// Service executes operator commands: it re-checks conflicts at submission,
// persists, applies the change locally and publishes it to other operators.
type Service struct {
	repo      Repository
	catalog   Catalog
	checker   ConflictChecker
	local     Applier
	publisher events.Publisher
	logger    *zerolog.Logger
}

func NewService(
	repo Repository,
	catalog Catalog,
	checker ConflictChecker,
	local Applier,
	publisher events.Publisher,
	logger *zerolog.Logger,
) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		repo:      repo,
		catalog:   catalog,
		checker:   checker,
		local:     local,
		publisher: publisher,
		logger:    logger,
	}
}

// Create books a new appointment.
func (s *Service) Create(ctx context.Context, req Request) (*model.Booking, error) {
	b := &model.Booking{
		ServiceID:     req.ServiceID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Notes:         req.Notes,
	}
	if err := s.applyRequest(ctx, b, req); err != nil {
		return nil, err
	}
	if b.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration_minutes or service_id is required", model.ErrInvalidDuration)
	}

	if err := s.ensureFree(ctx, b, "", req.RespectBreaks); err != nil {
		return nil, err
	}
	if err := s.repo.CreateBooking(ctx, b); err != nil {
		return nil, s.storageErr(err)
	}

	metrics.IncBookingCreated(string(b.Status))
	s.logger.Info().Str("booking_id", b.ID).Str("date", string(b.Date)).Str("time", b.Time.String()).Msg("booking created")
	s.emit(ctx, events.NewBookingEvent(events.BookingAdded, *b))
	return b, nil
}

// Update changes an existing booking. The booking's own interval never
// counts as a conflict.
func (s *Service) Update(ctx context.Context, id string, req Request) (*model.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ServiceID != "" {
		b.ServiceID = req.ServiceID
	}
	if req.CustomerName != "" {
		b.CustomerName = req.CustomerName
	}
	if req.CustomerPhone != "" {
		b.CustomerPhone = req.CustomerPhone
	}
	if req.CustomerEmail != "" {
		b.CustomerEmail = req.CustomerEmail
	}
	if req.Notes != "" {
		b.Notes = req.Notes
	}
	if err := s.applyRequest(ctx, b, req); err != nil {
		return nil, err
	}

	if err := s.ensureFree(ctx, b, b.ID, req.RespectBreaks); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBooking(ctx, b); err != nil {
		return nil, s.storageErr(err)
	}

	s.logger.Info().Str("booking_id", b.ID).Str("status", string(b.Status)).Msg("booking updated")
	s.emit(ctx, events.NewBookingEvent(events.BookingUpdated, *b))
	return b, nil
}

// Cancel keeps the booking but frees its interval.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.repo.CancelBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("booking_id", id).Msg("booking cancelled")
	s.emit(ctx, events.NewBookingEvent(events.BookingUpdated, *b))
	return b, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteBooking(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("booking_id", id).Msg("booking deleted")
	s.emit(ctx, events.NewBookingDeleted(id))
	return nil
}

// UpsertWorkingHours stores an override for p.Date.
func (s *Service) UpsertWorkingHours(ctx context.Context, p model.WorkingHoursPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	existing, err := s.repo.GetOverride(ctx, p.Date)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertOverride(ctx, p); err != nil {
		return err
	}

	t := events.WorkingHoursUpdated
	if existing == nil {
		t = events.WorkingHoursAdded
	}
	s.logger.Info().Str("date", string(p.Date)).Bool("working", p.IsWorkingDay).Msg("working hours saved")
	s.emit(ctx, events.NewWorkingHoursEvent(t, p))
	return nil
}

// DeleteWorkingHours drops the override so the default pattern applies.
func (s *Service) DeleteWorkingHours(ctx context.Context, date model.Date) error {
	if err := s.repo.DeleteOverride(ctx, date); err != nil {
		return err
	}
	s.logger.Info().Str("date", string(date)).Msg("working hours override removed")
	s.emit(ctx, events.NewWorkingHoursDeleted(date))
	return nil
}

// applyRequest parses the scheduling fields of req into b.
func (s *Service) applyRequest(ctx context.Context, b *model.Booking, req Request) error {
	if req.Date != "" {
		d, err := model.ParseDate(req.Date)
		if err != nil {
			return err
		}
		b.Date = d
	} else if b.Date == "" {
		return fmt.Errorf("%w: date is required", model.ErrInvalidDate)
	}

	if req.Time != "" {
		t, err := model.ParseClock(req.Time)
		if err != nil {
			return err
		}
		b.Time = t
	} else if b.ID == "" {
		return fmt.Errorf("%w: time is required", model.ErrInvalidClock)
	}

	switch {
	case req.DurationMinutes < 0:
		return fmt.Errorf("%w: %d", model.ErrInvalidDuration, req.DurationMinutes)
	case req.DurationMinutes > 0:
		b.DurationMinutes = req.DurationMinutes
	case req.ServiceID != "" && s.catalog != nil:
		svc, err := s.catalog.GetService(ctx, req.ServiceID)
		if err != nil {
			return fmt.Errorf("service %s: %w", req.ServiceID, err)
		}
		b.DurationMinutes = svc.DurationMinutes
	}

	if strings.TrimSpace(req.Status) != "" {
		st, err := model.NormalizeStatus(req.Status)
		if err != nil {
			return err
		}
		b.Status = st
	} else if b.Status == "" {
		b.Status = model.StatusPending
	}
	return nil
}

func (s *Service) ensureFree(ctx context.Context, b *model.Booking, excludeID string, breaks bool) error {
	if !b.Active() {
		return nil
	}

	check := s.checker.CheckConflict
	if breaks {
		check = s.checker.CheckConflictWithBreaks
	}
	res, err := check(ctx, string(b.Date), b.Time.String(), b.DurationMinutes, excludeID)
	if err != nil {
		return err
	}
	if res.Conflict {
		metrics.IncConflictDetected()
		return &ConflictError{Result: res}
	}
	return nil
}

// storageErr reports a slot lost to a concurrent writer as a conflict.
func (s *Service) storageErr(err error) error {
	if errors.Is(err, db.ErrSlotTaken) {
		metrics.IncConflictDetected()
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// emit applies the event locally, then publishes it. Publishing is best
// effort: the change is already stored and pollers will pick it up.
func (s *Service) emit(ctx context.Context, e events.Event) {
	if s.local != nil {
		if err := s.local.Apply(e); err != nil {
			s.logger.Error().Err(err).Str("type", string(e.Type)).Msg("apply local event")
		} else {
			s.local.RequestRecompute()
		}
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("type", string(e.Type)).Str("event_id", e.ID).Msg("publish event")
	}
}
