// Package settings converts the appointment settings wire payload into validated domain values.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
)

var ErrInvalidPayload = errors.New("invalid settings payload")

const (
	wireDateLayout = "02-Jan-2006"
	isoDateLayout  = "2006-01-02"
)

type TimeSlot struct {
	StartTime string `json:"startTime" validate:"required,clock"`
	EndTime   string `json:"endTime" validate:"required,clock"`
}

type DayAvailability struct {
	DayOfWeek int        `json:"dayOfWeek" validate:"gte=0,lte=6"`
	Available bool       `json:"available"`
	TimeSlots []TimeSlot `json:"timeSlots" validate:"dive"`
}

type UnavailableDate struct {
	Date      string     `json:"date" validate:"required,wire_date"`
	AllDay    bool       `json:"allDay"`
	TimeSlots []TimeSlot `json:"timeSlots" validate:"dive"`
}

// Payload is the shape returned by getAppointmentSettings and accepted by updateAppointmentSettings.
type Payload struct {
	Availability     []DayAvailability `json:"availability" validate:"max=7,dive"`
	UnavailableDates []UnavailableDate `json:"unavailableDates" validate:"dive"`
	Breaks           []TimeSlot        `json:"breaks" validate:"dive"`
	BookingType      string            `json:"bookingType" validate:"required,oneof=individual group"`
	BookingsPerSlot  int               `json:"bookingsPerSlot"`
	MeetingDuration  int               `json:"meetingDuration"`
	BufferTime       int               `json:"bufferTime"`
	Locations        []string          `json:"locations" validate:"dive,oneof=in_person phone video custom"`
	Timezone         string            `json:"timezone" validate:"required,iana_zone"`
	Price            string            `json:"price,omitempty"`
}

// ParseWireDate converts "05-JAN-2025" to "2025-01-05". ISO input is accepted unchanged.
func ParseWireDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(wireDateLayout, s); err == nil {
		return t.Format(isoDateLayout), nil
	}
	if t, err := time.Parse(isoDateLayout, s); err == nil {
		return t.Format(isoDateLayout), nil
	}
	return "", fmt.Errorf("%w: date %q must be DD-MMM-YYYY", ErrInvalidPayload, s)
}

// FormatWireDate converts an ISO date to the uppercase "DD-MMM-YYYY" wire form.
func FormatWireDate(iso string) (string, error) {
	t, err := time.Parse(isoDateLayout, strings.TrimSpace(iso))
	if err != nil {
		return "", fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidPayload, iso)
	}
	return strings.ToUpper(t.Format(wireDateLayout)), nil
}

// Parse validates p and builds the agent settings. Tag errors, interval errors and policy
// errors all wrap ErrInvalidPayload; interval and policy errors also wrap
// timewindow.ErrOverlapConflict, timewindow.ErrInvalidWindow or model.ErrInvalidPolicy.
func Parse(agentID string, p Payload) (model.Settings, error) {
	if strings.TrimSpace(agentID) == "" {
		return model.Settings{}, fmt.Errorf("%w: agent id is required", ErrInvalidPayload)
	}
	if err := validateStruct(p); err != nil {
		return model.Settings{}, err
	}

	policy := model.Policy{
		MeetingDurationMinutes: p.MeetingDuration,
		BufferMinutes:          p.BufferTime,
		BookingType:            model.BookingType(p.BookingType),
		CapacityPerSlot:        p.BookingsPerSlot,
		Timezone:               p.Timezone,
		Price:                  p.Price,
	}
	if policy.BookingType == model.BookingIndividual {
		policy.CapacityPerSlot = 1
	}
	for _, l := range p.Locations {
		policy.Locations = append(policy.Locations, model.LocationKind(l))
	}
	if err := policy.Validate(); err != nil {
		return model.Settings{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	weekly, err := parseWeekly(p.Availability)
	if err != nil {
		return model.Settings{}, err
	}

	breaks := windows(p.Breaks)
	if err := timewindow.Validate(breaks); err != nil {
		return model.Settings{}, fmt.Errorf("%w: breaks: %w", ErrInvalidPayload, err)
	}

	overrides := make(map[string]model.DateOverride, len(p.UnavailableDates))
	for _, u := range p.UnavailableDates {
		o, err := parseOverride(u)
		if err != nil {
			return model.Settings{}, err
		}
		if _, dup := overrides[o.Date]; dup {
			return model.Settings{}, fmt.Errorf("%w: duplicate override for %s", ErrInvalidPayload, u.Date)
		}
		overrides[o.Date] = o
	}

	return model.Settings{
		AgentID:   agentID,
		Policy:    policy,
		Weekly:    weekly,
		Overrides: overrides,
		Breaks:    timewindow.Normalize(breaks),
	}, nil
}

// parseWeekly fills any weekday missing from the payload with a closed rule so the result
// always holds seven entries indexed by weekday.
func parseWeekly(days []DayAvailability) ([]model.WeeklyRule, error) {
	rules := make([]model.WeeklyRule, 7)
	seen := make([]bool, 7)
	for d := range rules {
		rules[d] = model.WeeklyRule{DayOfWeek: d, TimeWindows: []timewindow.Window{}}
	}
	for _, day := range days {
		if seen[day.DayOfWeek] {
			return nil, fmt.Errorf("%w: duplicate rule for day %d", ErrInvalidPayload, day.DayOfWeek)
		}
		seen[day.DayOfWeek] = true
		ws := windows(day.TimeSlots)
		if err := timewindow.Validate(ws); err != nil {
			return nil, fmt.Errorf("%w: day %d: %w", ErrInvalidPayload, day.DayOfWeek, err)
		}
		rules[day.DayOfWeek] = model.WeeklyRule{
			DayOfWeek:   day.DayOfWeek,
			Available:   day.Available,
			TimeWindows: timewindow.Normalize(ws),
		}
	}
	return rules, nil
}

func parseOverride(u UnavailableDate) (model.DateOverride, error) {
	iso, err := ParseWireDate(u.Date)
	if err != nil {
		return model.DateOverride{}, err
	}
	ws := windows(u.TimeSlots)
	if err := timewindow.Validate(ws); err != nil {
		return model.DateOverride{}, fmt.Errorf("%w: override %s: %w", ErrInvalidPayload, u.Date, err)
	}
	if u.AllDay {
		ws = nil
	}
	return model.DateOverride{Date: iso, AllDay: u.AllDay, TimeWindows: timewindow.Normalize(ws)}, nil
}

func windows(in []TimeSlot) []timewindow.Window {
	out := make([]timewindow.Window, 0, len(in))
	for _, s := range in {
		out = append(out, timewindow.Window{Start: strings.TrimSpace(s.StartTime), End: strings.TrimSpace(s.EndTime)})
	}
	return out
}

func timeSlots(in []timewindow.Window) []TimeSlot {
	out := make([]TimeSlot, 0, len(in))
	for _, w := range in {
		out = append(out, TimeSlot{StartTime: w.Start, EndTime: w.End})
	}
	return out
}

func toUnavailableDate(o model.DateOverride) UnavailableDate {
	wire, err := FormatWireDate(o.Date)
	if err != nil {
		wire = o.Date
	}
	return UnavailableDate{Date: wire, AllDay: o.AllDay, TimeSlots: timeSlots(o.TimeWindows)}
}

// ToPayload renders settings back into wire form. Overrides are ordered by date.
func ToPayload(s model.Settings) Payload {
	p := Payload{
		Availability:     make([]DayAvailability, 0, len(s.Weekly)),
		UnavailableDates: make([]UnavailableDate, 0, len(s.Overrides)),
		Breaks:           timeSlots(s.Breaks),
		BookingType:      string(s.Policy.BookingType),
		BookingsPerSlot:  s.Policy.CapacityPerSlot,
		MeetingDuration:  s.Policy.MeetingDurationMinutes,
		BufferTime:       s.Policy.BufferMinutes,
		Locations:        make([]string, 0, len(s.Policy.Locations)),
		Timezone:         s.Policy.Timezone,
		Price:            s.Policy.Price,
	}
	for _, r := range s.Weekly {
		p.Availability = append(p.Availability, DayAvailability{
			DayOfWeek: r.DayOfWeek,
			Available: r.Available,
			TimeSlots: timeSlots(r.TimeWindows),
		})
	}
	dates := make([]string, 0, len(s.Overrides))
	for d := range s.Overrides {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		p.UnavailableDates = append(p.UnavailableDates, toUnavailableDate(s.Overrides[d]))
	}
	for _, l := range s.Policy.Locations {
		p.Locations = append(p.Locations, string(l))
	}
	return p
}

// Default is the configuration of an agent that has never saved settings: the starter week,
// 30 minute individual meetings, no buffer, in the given zone.
func Default(agentID, zone string) model.Settings {
	if zone == "" {
		zone = "UTC"
	}
	return model.Settings{
		AgentID: agentID,
		Policy: model.Policy{
			MeetingDurationMinutes: 30,
			BookingType:            model.BookingIndividual,
			CapacityPerSlot:        1,
			Locations:              []model.LocationKind{model.LocationVideo},
			Timezone:               zone,
		},
		Weekly:    availability.DefaultWeek(),
		Overrides: map[string]model.DateOverride{},
		Breaks:    []timewindow.Window{},
	}
}
