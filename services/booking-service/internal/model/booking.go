package model

import (
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// RescheduleRef points from a replacement booking back to the slot it replaced.
type RescheduleRef struct {
	BookingID string `json:"booking_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Booking is one reservation. Date/StartTime/EndTime are wall-clock values in BusinessTimezone,
// which is a snapshot of the policy zone at creation and never follows later policy changes.
type Booking struct {
	ID               string         `json:"id"`
	AgentID          string         `json:"agent_id"`
	Date             string         `json:"date"`
	StartTime        string         `json:"start_time"`
	EndTime          string         `json:"end_time"`
	BusinessTimezone string         `json:"business_timezone"`
	UserTimezone     string         `json:"user_timezone,omitempty"`
	Location         LocationKind   `json:"location,omitempty"`
	ViewerID         string         `json:"viewer_id,omitempty"`
	Status           BookingStatus  `json:"status"`
	IsRescheduled    bool           `json:"is_rescheduled"`
	RescheduledFrom  *RescheduleRef `json:"rescheduled_from,omitempty"`
	RescheduledTo    string         `json:"rescheduled_to,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Active reports whether the booking still holds capacity in its slot.
func (b Booking) Active() bool {
	return b.Status != StatusCancelled
}

// Span returns the instants the booking occupies, composed in its BusinessTimezone snapshot.
// fallbackZone applies to bookings stored without a snapshot.
func (b Booking) Span(fallbackZone string) (start, end time.Time, err error) {
	zone := b.BusinessTimezone
	if zone == "" {
		zone = fallbackZone
	}
	if start, err = tz.Compose(b.Date, b.StartTime, zone); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end, err = tz.Compose(b.Date, b.EndTime, zone); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Occupies reports whether b holds any part of [start, end). Bookings whose snapshot cannot be
// composed fall back to matching key exactly.
func (b Booking) Occupies(key SlotKey, start, end time.Time, fallbackZone string) bool {
	bs, be, err := b.Span(fallbackZone)
	if err != nil {
		return key.Matches(b)
	}
	return bs.Before(end) && start.Before(be)
}

// SlotKey identifies the capacity bucket a booking consumes.
func (b Booking) SlotKey() SlotKey {
	return SlotKey{AgentID: b.AgentID, Date: b.Date, Start: b.StartTime, End: b.EndTime}
}

// SlotKey is the unit of capacity accounting: one agent, one date, one exact range.
type SlotKey struct {
	AgentID string
	Date    string
	Start   string
	End     string
}

func (k SlotKey) String() string {
	return k.AgentID + "|" + k.Date + "|" + k.Start + "|" + k.End
}

// Matches reports whether b occupies exactly this date and range.
func (k SlotKey) Matches(b Booking) bool {
	return b.Date == k.Date && b.StartTime == k.Start && b.EndTime == k.End
}
