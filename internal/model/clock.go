package model

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidClock    = errors.New("invalid time; expected HH:MM")
	ErrInvalidDate     = errors.New("invalid date; expected YYYY-MM-DD")
	ErrInvalidMonth    = errors.New("invalid month; expected YYYY-MM")
	ErrInvalidDuration = errors.New("duration must be positive")
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"

	minutesPerDay = 24 * 60
)

// Clock is a local wall-clock time in minutes since midnight.
// Values past 24:00 only appear as interval ends.
type Clock int

// ParseClock parses "HH:MM" (00:00..23:59).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || !twoDigits(parts[0]) || !twoDigits(parts[1]) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	return Clock(hour*60 + minute), nil
}

// twoDigits rejects signs and spaces that strconv.Atoi would accept.
func twoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

// MustClock is ParseClock for literals; it panics on bad input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Add returns the clock shifted by the given number of minutes.
func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(text []byte) error {
	parsed, err := ParseClock(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the clock as "HH:MM" text.
func (c Clock) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *Clock) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	default:
		return fmt.Errorf("scan clock: unsupported type %T", src)
	}
}

// Interval is a half-open range of minutes [Start, End).
type Interval struct {
	Start Clock
	End   Clock
}

// NewInterval builds [start, start+minutes).
func NewInterval(start Clock, minutes int) Interval {
	return Interval{Start: start, End: start.Add(minutes)}
}

// Overlaps reports half-open overlap; touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

func (i Interval) Empty() bool {
	return i.End <= i.Start
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

// Date is a calendar day in "YYYY-MM-DD" form.
type Date string

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

// Time returns midnight of the date in UTC. Zero time if malformed.
func (d Date) Time() time.Time {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d Date) Valid() bool {
	_, err := time.Parse(dateLayout, string(d))
	return err == nil
}

func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Month returns the "YYYY-MM" the date belongs to.
func (d Date) Month() string {
	return d.Time().Format(monthLayout)
}

func (d Date) Before(o Date) bool {
	return d < o
}

func (d Date) String() string {
	return string(d)
}

// ParseMonth returns the first and last day of a "YYYY-MM" month.
func ParseMonth(s string) (first, last Date, err error) {
	t, err := time.Parse(monthLayout, strings.TrimSpace(s))
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	first = DateOf(t)
	last = DateOf(t.AddDate(0, 1, -1))
	return first, last, nil
}

// DaysBetween counts whole days from a to b (negative when b is before a).
func DaysBetween(a, b Date) int {
	return int(b.Time().Sub(a.Time()).Hours() / 24)
}
