package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid working hours")

// Break is a pause inside a working day. A break with equal bounds is inert.
type Break struct {
	StartTime   Clock  `json:"start_time" yaml:"start_time"`
	EndTime     Clock  `json:"end_time" yaml:"end_time"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func (b Break) Inert() bool {
	return b.StartTime == b.EndTime
}

func (b Break) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// WorkingHoursPolicy is the working-hours record for one date, either an
// explicit override or synthesized from the DefaultPattern.
type WorkingHoursPolicy struct {
	Date         Date    `json:"date"`
	IsWorkingDay bool    `json:"is_working_day"`
	StartTime    Clock   `json:"start_time"`
	EndTime      Clock   `json:"end_time"`
	Breaks       []Break `json:"breaks"`
	Notes        string  `json:"notes,omitempty"`
}

// Window returns the [StartTime, EndTime) interval of the day.
func (p WorkingHoursPolicy) Window() Interval {
	return Interval{Start: p.StartTime, End: p.EndTime}
}

// ActiveBreaks returns breaks that can block a slot.
func (p WorkingHoursPolicy) ActiveBreaks() []Break {
	var out []Break
	for _, b := range p.Breaks {
		if !b.Inert() {
			out = append(out, b)
		}
	}
	return out
}

func (p WorkingHoursPolicy) Validate() error {
	if !p.Date.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDate, p.Date)
	}
	if !p.IsWorkingDay {
		return nil
	}
	if p.StartTime >= p.EndTime {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidPolicy, p.StartTime, p.EndTime)
	}
	for i, b := range p.Breaks {
		if b.EndTime < b.StartTime {
			return fmt.Errorf("%w: break[%d] ends before it starts", ErrInvalidPolicy, i)
		}
	}
	return nil
}

// DefaultPattern is the process-wide weekly rule used when a date has no
// override. Weekdays follow time.Weekday (0 = Sunday).
type DefaultPattern struct {
	WorkingWeekdays []time.Weekday `json:"working_weekdays" yaml:"working_weekdays"`
	StartTime       Clock          `json:"start_time" yaml:"start_time"`
	EndTime         Clock          `json:"end_time" yaml:"end_time"`
}

// DefaultWorkingPattern is Monday to Friday, 09:00-18:00.
func DefaultWorkingPattern() DefaultPattern {
	return DefaultPattern{
		WorkingWeekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartTime:       MustClock("09:00"),
		EndTime:         MustClock("18:00"),
	}
}

func (p DefaultPattern) IsWorkingWeekday(d time.Weekday) bool {
	for _, w := range p.WorkingWeekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (p DefaultPattern) Validate() error {
	for _, w := range p.WorkingWeekdays {
		if w < time.Sunday || w > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range 0..6", ErrInvalidPolicy, w)
		}
	}
	if len(p.WorkingWeekdays) > 0 && p.StartTime >= p.EndTime {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidPolicy, p.StartTime, p.EndTime)
	}
	return nil
}
