package model

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
)

var ErrInvalidPolicy = errors.New("invalid booking policy")

type BookingType string

const (
	BookingIndividual BookingType = "individual"
	BookingGroup      BookingType = "group"
)

type LocationKind string

const (
	LocationInPerson LocationKind = "in_person"
	LocationPhone    LocationKind = "phone"
	LocationVideo    LocationKind = "video"
	LocationCustom   LocationKind = "custom"
)

func (l LocationKind) Valid() bool {
	switch l {
	case LocationInPerson, LocationPhone, LocationVideo, LocationCustom:
		return true
	}
	return false
}

// Policy is the per-agent booking configuration shared by the resolver and the slot generator.
type Policy struct {
	MeetingDurationMinutes int            `json:"meeting_duration_minutes"`
	BufferMinutes          int            `json:"buffer_minutes"`
	BookingType            BookingType    `json:"booking_type"`
	CapacityPerSlot        int            `json:"capacity_per_slot"`
	Locations              []LocationKind `json:"locations"`
	Timezone               string         `json:"timezone"`
	Price                  string         `json:"price,omitempty"`
}

// Capacity is 1 for individual bookings and CapacityPerSlot for group bookings.
func (p Policy) Capacity() int {
	if p.BookingType == BookingGroup {
		return p.CapacityPerSlot
	}
	return 1
}

// Step is the distance between consecutive slot starts.
func (p Policy) Step() int {
	return p.MeetingDurationMinutes + p.BufferMinutes
}

// Validate enforces the numeric invariants of a policy. Zone validity is checked by the
// settings boundary, which owns the timezone database dependency.
func (p Policy) Validate() error {
	if p.MeetingDurationMinutes <= 0 {
		return fmt.Errorf("%w: meeting duration must be positive (got %d)", ErrInvalidPolicy, p.MeetingDurationMinutes)
	}
	if p.MeetingDurationMinutes > timewindow.MinutesPerDay {
		return fmt.Errorf("%w: meeting duration exceeds one day (got %d)", ErrInvalidPolicy, p.MeetingDurationMinutes)
	}
	if p.BufferMinutes < 0 {
		return fmt.Errorf("%w: buffer must not be negative (got %d)", ErrInvalidPolicy, p.BufferMinutes)
	}
	switch p.BookingType {
	case BookingIndividual:
	case BookingGroup:
		if p.CapacityPerSlot < 1 {
			return fmt.Errorf("%w: group capacity must be at least 1 (got %d)", ErrInvalidPolicy, p.CapacityPerSlot)
		}
	default:
		return fmt.Errorf("%w: unknown booking type %q", ErrInvalidPolicy, p.BookingType)
	}
	if p.Timezone == "" {
		return fmt.Errorf("%w: timezone is required", ErrInvalidPolicy)
	}
	return nil
}

func (p Policy) AllowsLocation(l LocationKind) bool {
	if l == "" {
		return true
	}
	for _, allowed := range p.Locations {
		if allowed == l {
			return true
		}
	}
	return false
}

// WeeklyRule is the recurring availability for one weekday (0 = Sunday).
type WeeklyRule struct {
	DayOfWeek   int                 `json:"day_of_week"`
	Available   bool                `json:"available"`
	TimeWindows []timewindow.Window `json:"time_windows"`
}

// DateOverride replaces the weekly rule for one ISO date. AllDay means closed.
type DateOverride struct {
	Date        string              `json:"date"`
	AllDay      bool                `json:"all_day"`
	TimeWindows []timewindow.Window `json:"time_windows"`
}

// Settings is everything one agent owns for availability purposes.
type Settings struct {
	AgentID   string                  `json:"agent_id"`
	Policy    Policy                  `json:"policy"`
	Weekly    []WeeklyRule            `json:"weekly"`
	Overrides map[string]DateOverride `json:"overrides"`
	Breaks    []timewindow.Window     `json:"breaks"`
}

// Clone returns a deep copy so callers can mutate without affecting stored settings.
func (s Settings) Clone() Settings {
	out := s
	out.Policy.Locations = append([]LocationKind(nil), s.Policy.Locations...)
	out.Weekly = make([]WeeklyRule, len(s.Weekly))
	for i, r := range s.Weekly {
		r.TimeWindows = append([]timewindow.Window(nil), r.TimeWindows...)
		out.Weekly[i] = r
	}
	out.Overrides = make(map[string]DateOverride, len(s.Overrides))
	for k, o := range s.Overrides {
		o.TimeWindows = append([]timewindow.Window(nil), o.TimeWindows...)
		out.Overrides[k] = o
	}
	out.Breaks = append([]timewindow.Window(nil), s.Breaks...)
	return out
}
