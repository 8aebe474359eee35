// Package tz composes wall-clock values with IANA zones and re-projects them.
package tz

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidInput    = errors.New("invalid date or time")
)

// locations caches *time.Location by zone id.
var locations sync.Map

// Load resolves an IANA zone id against the runtime timezone database.
func Load(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" || zone == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, zone)
	}
	if loc, ok := locations.Load(zone); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, zone, err)
	}
	locations.Store(zone, loc)
	return loc, nil
}

// IsValidZone reports whether the runtime database knows zone. No hardcoded list is consulted,
// so identifiers added to tzdata work without a code change.
func IsValidZone(zone string) bool {
	_, err := Load(zone)
	return err == nil
}

// Compose attaches date and wall-clock hhmm to zone. "24:00" yields midnight of the next day.
// Wall-clock times that fall in a spring-forward gap are normalized forward by the time package.
func Compose(date, hhmm, zone string) (time.Time, error) {
	loc, err := Load(zone)
	if err != nil {
		return time.Time{}, err
	}
	day, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidInput, date)
	}
	mins, err := timewindow.ParseClock(hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, loc), nil
}

// Project returns the calendar date and wall-clock time of t as seen in zone.
func Project(t time.Time, zone string) (date, hhmm string, err error) {
	loc, err := Load(zone)
	if err != nil {
		return "", "", err
	}
	local := t.In(loc)
	return local.Format(DateLayout), local.Format(ClockLayout), nil
}

// Convert re-projects hhmm on date from src to dst and returns the wall-clock part.
// When src == dst the input is returned untouched. On any error the original hhmm is
// returned together with the error, so callers never display a silently shifted time.
func Convert(hhmm, date, src, dst string) (string, error) {
	_, out, err := ConvertDateTime(date, hhmm, src, dst)
	if err != nil {
		return hhmm, err
	}
	return out, nil
}

// ConvertDateTime is Convert that also reports the target calendar date, which differs from
// date when the conversion crosses midnight.
func ConvertDateTime(date, hhmm, src, dst string) (string, string, error) {
	if src == dst {
		return date, hhmm, nil
	}
	t, err := Compose(date, hhmm, src)
	if err != nil {
		return date, hhmm, err
	}
	outDate, outTime, err := Project(t, dst)
	if err != nil {
		return date, hhmm, err
	}
	return outDate, outTime, nil
}
