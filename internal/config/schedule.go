package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"bronivik/bronivik_schedule/internal/model"
)

// PatternConfig is the weekly default. Weekdays are 1=Mon .. 7=Sun.
type PatternConfig struct {
	WorkingWeekdays []int  `yaml:"working_weekdays"`
	StartTime       string `yaml:"start_time"` // "09:00"
	EndTime         string `yaml:"end_time"`   // "18:00"
}

type ServiceConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"duration_minutes"`
}

// HolidayConfig marks a date as a day off.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"`
}

type BreakConfig struct {
	StartTime   string `yaml:"start_time"`
	EndTime     string `yaml:"end_time"`
	Description string `yaml:"description,omitempty"`
}

// OverrideConfig sets the working hours of one date. IsWorkingDay defaults
// to true.
type OverrideConfig struct {
	Date         string        `yaml:"date"`
	IsWorkingDay *bool         `yaml:"is_working_day,omitempty"`
	StartTime    string        `yaml:"start_time"`
	EndTime      string        `yaml:"end_time"`
	Breaks       []BreakConfig `yaml:"breaks,omitempty"`
	Notes        string        `yaml:"notes,omitempty"`
}

// Schedule is the root of schedule.yaml.
type Schedule struct {
	DefaultPattern PatternConfig    `yaml:"default_pattern"`
	Services       []ServiceConfig  `yaml:"services"`
	Holidays       []HolidayConfig  `yaml:"holidays"`
	Overrides      []OverrideConfig `yaml:"overrides"`
}

// LoadSchedule loads and validates schedule.yaml.
func LoadSchedule(path string) (*Schedule, error) {
	if path == "" {
		path = defaultSchedule
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule config: %w", err)
	}

	var cfg Schedule
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse schedule config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate schedule config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (s *Schedule) Validate() error {
	if _, err := s.Pattern(); err != nil {
		return err
	}

	ids := make(map[string]bool)
	for i, svc := range s.Services {
		if svc.ID == "" {
			return fmt.Errorf("services[%d]: id is required", i)
		}
		if ids[svc.ID] {
			return fmt.Errorf("services[%d]: duplicate id %q", i, svc.ID)
		}
		ids[svc.ID] = true
		if svc.DurationMinutes <= 0 {
			return fmt.Errorf("services[%d]: duration_minutes must be positive", i)
		}
	}

	_, err := s.Policies()
	return err
}

// Pattern converts the weekly default into the model form.
func (s *Schedule) Pattern() (model.DefaultPattern, error) {
	var p model.DefaultPattern
	for i, d := range s.DefaultPattern.WorkingWeekdays {
		if d < 1 || d > 7 {
			return model.DefaultPattern{}, fmt.Errorf("default_pattern.working_weekdays[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, d)
		}
		p.WorkingWeekdays = append(p.WorkingWeekdays, time.Weekday(d%7))
	}

	var err error
	if p.StartTime, err = model.ParseClock(s.DefaultPattern.StartTime); err != nil {
		return model.DefaultPattern{}, fmt.Errorf("default_pattern.start_time: %w", err)
	}
	if p.EndTime, err = model.ParseClock(s.DefaultPattern.EndTime); err != nil {
		return model.DefaultPattern{}, fmt.Errorf("default_pattern.end_time: %w", err)
	}
	if err := p.Validate(); err != nil {
		return model.DefaultPattern{}, fmt.Errorf("default_pattern: %w", err)
	}
	return p, nil
}

// Policies returns the configured overrides. Holidays become non-working
// days; an explicit override for the same date wins.
func (s *Schedule) Policies() ([]model.WorkingHoursPolicy, error) {
	byDate := make(map[model.Date]int)
	var out []model.WorkingHoursPolicy

	for i, h := range s.Holidays {
		d, err := model.ParseDate(h.Date)
		if err != nil {
			return nil, fmt.Errorf("holiday[%d]: %w", i, err)
		}
		byDate[d] = len(out)
		out = append(out, model.WorkingHoursPolicy{Date: d, IsWorkingDay: false, Notes: h.Name})
	}

	for i, o := range s.Overrides {
		p, err := o.policy()
		if err != nil {
			return nil, fmt.Errorf("overrides[%d]: %w", i, err)
		}
		if idx, ok := byDate[p.Date]; ok {
			out[idx] = p
			continue
		}
		byDate[p.Date] = len(out)
		out = append(out, p)
	}
	return out, nil
}

func (o OverrideConfig) policy() (model.WorkingHoursPolicy, error) {
	d, err := model.ParseDate(o.Date)
	if err != nil {
		return model.WorkingHoursPolicy{}, err
	}
	p := model.WorkingHoursPolicy{Date: d, IsWorkingDay: true, Notes: o.Notes}
	if o.IsWorkingDay != nil {
		p.IsWorkingDay = *o.IsWorkingDay
	}

	if p.IsWorkingDay {
		if p.StartTime, err = model.ParseClock(o.StartTime); err != nil {
			return model.WorkingHoursPolicy{}, fmt.Errorf("start_time: %w", err)
		}
		if p.EndTime, err = model.ParseClock(o.EndTime); err != nil {
			return model.WorkingHoursPolicy{}, fmt.Errorf("end_time: %w", err)
		}
	}

	for i, b := range o.Breaks {
		start, err := model.ParseClock(b.StartTime)
		if err != nil {
			return model.WorkingHoursPolicy{}, fmt.Errorf("breaks[%d].start_time: %w", i, err)
		}
		end, err := model.ParseClock(b.EndTime)
		if err != nil {
			return model.WorkingHoursPolicy{}, fmt.Errorf("breaks[%d].end_time: %w", i, err)
		}
		p.Breaks = append(p.Breaks, model.Break{StartTime: start, EndTime: end, Description: b.Description})
	}

	if err := p.Validate(); err != nil {
		return model.WorkingHoursPolicy{}, err
	}
	return p, nil
}

// ServiceList converts the catalog entries.
func (s *Schedule) ServiceList() []model.Service {
	out := make([]model.Service, 0, len(s.Services))
	for _, svc := range s.Services {
		out = append(out, model.Service{ID: svc.ID, Name: svc.Name, DurationMinutes: svc.DurationMinutes})
	}
	return out
}
