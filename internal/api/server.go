// Package api exposes the availability engine and booking commands over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"bronivik/bronivik_schedule/internal/booking"
	"bronivik/bronivik_schedule/internal/db"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

// Availability is the read side served by the engine.
type Availability interface {
	ComputeAvailableSlots(ctx context.Context, date string, durationMinutes int, excludeID string) ([]string, error)
	ComputeMonthAvailability(ctx context.Context, yearMonth string, durationMinutes int) (map[model.Date]slots.DaySummary, error)
	CheckConflict(ctx context.Context, date, start string, durationMinutes int, excludeID string) (slots.ConflictResult, error)
	CheckConflictWithBreaks(ctx context.Context, date, start string, durationMinutes int, excludeID string) (slots.ConflictResult, error)
	Policy(ctx context.Context, date string) (model.WorkingHoursPolicy, error)
}

// Commands is the write side.
type Commands interface {
	Create(ctx context.Context, req booking.Request) (*model.Booking, error)
	Update(ctx context.Context, id string, req booking.Request) (*model.Booking, error)
	Cancel(ctx context.Context, id string) (*model.Booking, error)
	Delete(ctx context.Context, id string) error
	UpsertWorkingHours(ctx context.Context, p model.WorkingHoursPolicy) error
	DeleteWorkingHours(ctx context.Context, date model.Date) error
}

type Catalog interface {
	ListServices(ctx context.Context) ([]model.Service, error)
	GetService(ctx context.Context, id string) (*model.Service, error)
}

type Server struct {
	availability Availability
	commands     Commands
	catalog      Catalog
	validate     *validator.Validate
	logger       *zerolog.Logger
}

func NewServer(availability Availability, commands Commands, catalog Catalog, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{
		availability: availability,
		commands:     commands,
		catalog:      catalog,
		validate:     newValidator(),
		logger:       logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()

	r.GET("/api/v1/slots", s.handleSlots)
	r.GET("/api/v1/working-hours/:date", s.handleGetWorkingHours)
	r.PUT("/api/v1/working-hours/:date", s.handlePutWorkingHours)
	r.DELETE("/api/v1/working-hours/:date", s.handleDeleteWorkingHours)
	r.GET("/api/v1/availability/:month", s.handleMonth)
	r.GET("/api/v1/availability/:month/export", s.handleMonthExport)
	r.POST("/api/v1/conflicts", s.handleConflict)

	r.POST("/api/v1/bookings", s.handleCreateBooking)
	r.PUT("/api/v1/bookings/:id", s.handleUpdateBooking)
	r.POST("/api/v1/bookings/:id/cancel", s.handleCancelBooking)
	r.DELETE("/api/v1/bookings/:id", s.handleDeleteBooking)

	r.GET("/api/v1/services", s.handleServices)

	r.PanicHandler = func(w http.ResponseWriter, req *http.Request, v any) {
		s.logger.Error().Interface("panic", v).Str("path", req.URL.Path).Msg("handler panicked")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
	return r
}

type errorResponse struct {
	Error    string                `json:"error"`
	Details  ValidationErrors      `json:"details,omitempty"`
	Conflict *slots.ConflictResult `json:"conflict,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps domain errors to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs    ValidationErrors
		conflict *booking.ConflictError
	)
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: verrs})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Conflict: &conflict.Result})
	case errors.Is(err, booking.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case isInvalidInput(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isInvalidInput(err error) bool {
	for _, target := range []error{
		model.ErrInvalidClock,
		model.ErrInvalidDate,
		model.ErrInvalidMonth,
		model.ErrInvalidDuration,
		model.ErrInvalidStatus,
		model.ErrInvalidPolicy,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
