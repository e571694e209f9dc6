package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in paths, payloads and bucket keys.
const DateLayout = "2006-01-02"

// DefaultTimezone is used when no timezone is configured.
const DefaultTimezone = "America/Sao_Paulo"

// LoadLocation resolves an IANA timezone name. Empty means DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

// IsTimezoneValid reports whether name resolves in the tz database.
func IsTimezoneValid(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// ParseDate parses a YYYY-MM-DD date at local midnight in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// DayBounds returns the half-open interval [local midnight, next local midnight)
// for date in loc. On DST transition days the span is 23 or 25 hours.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

// LocalDate formats t as a calendar date in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ClockTime is a time of day with second precision.
type ClockTime struct {
	Hour, Minute, Second int
}

// ParseClock parses "HH:MM" or "HH:MM:SS". 24:00 is accepted as end of day.
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	var c ClockTime
	var err error
	switch strings.Count(s, ":") {
	case 1:
		_, err = fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute)
	case 2:
		_, err = fmt.Sscanf(s, "%d:%d:%d", &c.Hour, &c.Minute, &c.Second)
	default:
		return ClockTime{}, fmt.Errorf("invalid time of day %q", s)
	}
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if c.Hour == 24 && c.Minute == 0 && c.Second == 0 {
		return c, nil
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 || c.Second < 0 || c.Second > 59 {
		return ClockTime{}, fmt.Errorf("time of day %q out of range", s)
	}
	return c, nil
}

// Seconds returns the offset of c from midnight.
func (c ClockTime) Seconds() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// SecondsOfDay returns the wall-clock offset of t from its own midnight.
func SecondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
