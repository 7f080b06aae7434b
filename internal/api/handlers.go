package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"bronivik/bronivik_schedule/internal/booking"
	"bronivik/bronivik_schedule/internal/export"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

const maxBodyBytes = 1 << 20

type slotsResponse struct {
	Date            string                   `json:"date"`
	DurationMinutes int                      `json:"duration_minutes"`
	Slots           []string                 `json:"slots"`
	WorkingHours    model.WorkingHoursPolicy `json:"working_hours"`
}

type monthResponse struct {
	Month           string                          `json:"month"`
	DurationMinutes int                             `json:"duration_minutes"`
	Days            map[model.Date]slots.DaySummary `json:"days"`
}

type conflictRequest struct {
	Date            string `json:"date" validate:"required,date"`
	Time            string `json:"time" validate:"required,clock"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0"`
	ServiceID       string `json:"service_id" validate:"max=64"`
	ExcludeID       string `json:"exclude_id" validate:"max=64"`
	RespectBreaks   bool   `json:"respect_breaks"`
}

type createBookingRequest struct {
	Date            string `json:"date" validate:"required,date"`
	Time            string `json:"time" validate:"required,clock"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0"`
	ServiceID       string `json:"service_id" validate:"max=64"`
	Status          string `json:"status" validate:"max=32"`
	CustomerName    string `json:"customer_name" validate:"max=200"`
	CustomerPhone   string `json:"customer_phone" validate:"max=32"`
	CustomerEmail   string `json:"customer_email" validate:"omitempty,email"`
	Notes           string `json:"notes" validate:"max=2000"`
	RespectBreaks   bool   `json:"respect_breaks"`
}

type updateBookingRequest struct {
	Date            string `json:"date" validate:"omitempty,date"`
	Time            string `json:"time" validate:"omitempty,clock"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0"`
	ServiceID       string `json:"service_id" validate:"max=64"`
	Status          string `json:"status" validate:"max=32"`
	CustomerName    string `json:"customer_name" validate:"max=200"`
	CustomerPhone   string `json:"customer_phone" validate:"max=32"`
	CustomerEmail   string `json:"customer_email" validate:"omitempty,email"`
	Notes           string `json:"notes" validate:"max=2000"`
	RespectBreaks   bool   `json:"respect_breaks"`
}

type breakRequest struct {
	StartTime   string `json:"start_time" validate:"required,clock"`
	EndTime     string `json:"end_time" validate:"required,clock"`
	Description string `json:"description" validate:"max=200"`
}

type workingHoursRequest struct {
	IsWorkingDay *bool          `json:"is_working_day" validate:"required"`
	StartTime    string         `json:"start_time" validate:"omitempty,clock"`
	EndTime      string         `json:"end_time" validate:"omitempty,clock"`
	Breaks       []breakRequest `json:"breaks" validate:"max=20,dive"`
	Notes        string         `json:"notes" validate:"max=500"`
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validateStruct(dst); err != nil {
		s.writeFailure(w, r, err)
		return false
	}
	return true
}

// resolveDuration takes the explicit duration, else the service's.
func (s *Server) resolveDuration(ctx context.Context, raw string, minutes int, serviceID string) (int, error) {
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", model.ErrInvalidDuration, raw)
		}
		minutes = n
	}
	if minutes != 0 {
		return minutes, nil
	}
	if serviceID == "" || s.catalog == nil {
		return 0, fmt.Errorf("%w: duration or service_id is required", model.ErrInvalidDuration)
	}
	svc, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		return 0, fmt.Errorf("service %s: %w", serviceID, err)
	}
	return svc.DurationMinutes, nil
}

// GET /api/v1/slots?date=&duration=|service_id=&exclude=
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	date := q.Get("date")

	duration, err := s.resolveDuration(r.Context(), q.Get("duration"), 0, q.Get("service_id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	free, err := s.availability.ComputeAvailableSlots(r.Context(), date, duration, q.Get("exclude"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	policy, err := s.availability.Policy(r.Context(), date)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slotsResponse{
		Date:            date,
		DurationMinutes: duration,
		Slots:           free,
		WorkingHours:    policy,
	})
}

func (s *Server) monthDays(r *http.Request, ps httprouter.Params) (string, int, map[model.Date]slots.DaySummary, error) {
	month := ps.ByName("month")
	q := r.URL.Query()

	duration, err := s.resolveDuration(r.Context(), q.Get("duration"), 0, q.Get("service_id"))
	if err != nil {
		return "", 0, nil, err
	}
	days, err := s.availability.ComputeMonthAvailability(r.Context(), month, duration)
	if err != nil {
		return "", 0, nil, err
	}
	return month, duration, days, nil
}

// GET /api/v1/availability/:month
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	month, duration, days, err := s.monthDays(r, ps)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, monthResponse{Month: month, DurationMinutes: duration, Days: days})
}

// GET /api/v1/availability/:month/export
func (s *Server) handleMonthExport(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	month, duration, days, err := s.monthDays(r, ps)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.MonthAvailability(&buf, month, duration, days); err != nil {
		s.writeFailure(w, r, fmt.Errorf("export %s: %w", month, err))
		return
	}
	w.Header().Set("Content-Type", export.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(month, duration)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// POST /api/v1/conflicts
func (s *Server) handleConflict(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req conflictRequest
	if !s.decode(w, r, &req) {
		return
	}

	duration, err := s.resolveDuration(r.Context(), "", req.DurationMinutes, req.ServiceID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	check := s.availability.CheckConflict
	if req.RespectBreaks {
		check = s.availability.CheckConflictWithBreaks
	}
	res, err := check(r.Context(), req.Date, req.Time, duration, req.ExcludeID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/v1/bookings
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createBookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	b, err := s.commands.Create(r.Context(), booking.Request(req))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// PUT /api/v1/bookings/:id
func (s *Server) handleUpdateBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req updateBookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	b, err := s.commands.Update(r.Context(), ps.ByName("id"), booking.Request(req))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/v1/bookings/:id/cancel
func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	b, err := s.commands.Cancel(r.Context(), ps.ByName("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DELETE /api/v1/bookings/:id
func (s *Server) handleDeleteBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.commands.Delete(r.Context(), ps.ByName("id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/working-hours/:date
func (s *Server) handleGetWorkingHours(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	policy, err := s.availability.Policy(r.Context(), ps.ByName("date"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// PUT /api/v1/working-hours/:date
func (s *Server) handlePutWorkingHours(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	date, err := model.ParseDate(ps.ByName("date"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req workingHoursRequest
	if !s.decode(w, r, &req) {
		return
	}

	policy, err := req.policy(date)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.commands.UpsertWorkingHours(r.Context(), policy); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

// DELETE /api/v1/working-hours/:date
func (s *Server) handleDeleteWorkingHours(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	date, err := model.ParseDate(ps.ByName("date"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.commands.DeleteWorkingHours(r.Context(), date); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/services
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	services, err := s.catalog.ListServices(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if services == nil {
		services = []model.Service{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (req workingHoursRequest) policy(date model.Date) (model.WorkingHoursPolicy, error) {
	p := model.WorkingHoursPolicy{
		Date:         date,
		IsWorkingDay: *req.IsWorkingDay,
		Notes:        req.Notes,
		Breaks:       make([]model.Break, 0, len(req.Breaks)),
	}
	var err error
	if req.StartTime != "" {
		if p.StartTime, err = model.ParseClock(req.StartTime); err != nil {
			return p, err
		}
	}
	if req.EndTime != "" {
		if p.EndTime, err = model.ParseClock(req.EndTime); err != nil {
			return p, err
		}
	}
	for _, br := range req.Breaks {
		b := model.Break{Description: br.Description}
		if b.StartTime, err = model.ParseClock(br.StartTime); err != nil {
			return p, err
		}
		if b.EndTime, err = model.ParseClock(br.EndTime); err != nil {
			return p, err
		}
		p.Breaks = append(p.Breaks, b)
	}
	return p, p.Validate()
}
