// Package slots chunks effective availability into bookable slots under a booking policy.
package slots

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

type Slot struct {
	Start             string `json:"start"`
	End               string `json:"end"`
	RemainingCapacity int    `json:"remaining_capacity"`
	Full              bool   `json:"full,omitempty"`
}

type Request struct {
	// Date is the ISO calendar date the windows belong to, in the policy zone.
	Date     string
	Windows  []timewindow.Window
	Breaks   []timewindow.Window
	Policy   model.Policy
	// Bookings are matched by the instants they occupy, so bookings made under an earlier policy
	// zone or on a neighbouring date still consume the slots they overlap.
	Bookings []model.Booking
	// Now filters out slots that already ended. The zero value disables the filter.
	Now time.Time
	// IncludeFull keeps exhausted group slots in the result with Full set.
	IncludeFull bool
}

// Generate emits slots of exactly MeetingDurationMinutes, stepping by duration plus buffer from the
// exact start of each window left after breaks are removed. Slots are ordered by start.
func Generate(req Request) ([]Slot, error) {
	if err := req.Policy.Validate(); err != nil {
		return nil, err
	}
	capacity := req.Policy.Capacity()
	duration := req.Policy.MeetingDurationMinutes
	step := req.Policy.Step()

	var active []model.Booking
	for _, b := range req.Bookings {
		if b.Active() {
			active = append(active, b)
		}
	}

	available := timewindow.Normalize(timewindow.Subtract(req.Windows, req.Breaks))
	out := []Slot{}
	for _, w := range available {
		ws, we, err := w.Minutes()
		if err != nil {
			continue
		}
		for t := ws; t+duration <= we; t += step {
			slot := Slot{Start: timewindow.FormatClock(t), End: timewindow.FormatClock(t + duration)}
			start, err := tz.Compose(req.Date, slot.Start, req.Policy.Timezone)
			if err != nil {
				return nil, fmt.Errorf("compose slot start: %w", err)
			}
			end, err := tz.Compose(req.Date, slot.End, req.Policy.Timezone)
			if err != nil {
				return nil, fmt.Errorf("compose slot end: %w", err)
			}
			if !req.Now.IsZero() && !end.After(req.Now) {
				continue
			}

			key := model.SlotKey{Date: req.Date, Start: slot.Start, End: slot.End}
			taken := 0
			for _, b := range active {
				if b.Occupies(key, start, end, req.Policy.Timezone) {
					taken++
				}
			}

			slot.RemainingCapacity = capacity - taken
			if slot.RemainingCapacity <= 0 {
				if req.Policy.BookingType != model.BookingGroup || !req.IncludeFull {
					continue
				}
				slot.RemainingCapacity = 0
				slot.Full = true
			}
			out = append(out, slot)
		}
	}
	return out, nil
}

// Bookable drops slots marked Full.
func Bookable(in []Slot) []Slot {
	out := make([]Slot, 0, len(in))
	for _, s := range in {
		if !s.Full && s.RemainingCapacity > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Contains finds the slot covering exactly [start, end).
func Contains(in []Slot, start, end string) (Slot, bool) {
	for _, s := range in {
		if s.Start == start && s.End == end {
			return s, true
		}
	}
	return Slot{}, false
}
