package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

// Filter narrows a booking query. The zero value returns every booking, cancelled ones included.
type Filter struct {
	Statuses []model.BookingStatus
	// From and To bound the booking date as seen in Zone, inclusive.
	From     string
	To       string
	Location model.LocationKind
	// Upcoming keeps confirmed bookings that have not ended yet.
	Upcoming bool
	// Zone is the caller's display zone. Empty displays each booking in its own business zone.
	Zone string
}

// View is a booking with its date and times projected into Zone.
type View struct {
	Booking model.Booking `json:"booking"`
	Date    string        `json:"date"`
	Start   string        `json:"start"`
	End     string        `json:"end"`
	Zone    string        `json:"zone"`

	startsAt time.Time
	resolved bool
}

// Query filters and orders the agent's bookings by start instant. Each booking composes with its
// own BusinessTimezone snapshot. A booking whose snapshot cannot be composed keeps its stored
// values, reports that zone in View.Zone and sorts after every composed booking by stored date
// and start.
func (l *Ledger) Query(ctx context.Context, agentID string, f Filter) ([]View, error) {
	if f.Zone != "" && !tz.IsValidZone(f.Zone) {
		return nil, fmt.Errorf("%w: %q", tz.ErrInvalidTimezone, f.Zone)
	}
	all, err := l.bookings.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return Select(all, f, l.now(), l.logger.Warn), nil
}

// Select is the pure part of Query.
func Select(all []model.Booking, f Filter, now time.Time, warn func(msg string, args ...any)) []View {
	wanted := make(map[model.BookingStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		wanted[s] = true
	}

	out := make([]View, 0, len(all))
	for _, b := range all {
		if len(wanted) > 0 && !wanted[b.Status] {
			continue
		}
		if f.Location != "" && b.Location != f.Location {
			continue
		}
		v, ok := project(b, f.Zone)
		if !ok && warn != nil {
			warn("booking zone conversion failed", "booking_id", b.ID, "zone", b.BusinessTimezone)
		}
		if f.Upcoming {
			if b.Status != model.StatusConfirmed {
				continue
			}
			end, err := tz.Compose(b.Date, b.EndTime, b.BusinessTimezone)
			if err != nil || !end.After(now) {
				continue
			}
		}
		if f.From != "" && v.Date < f.From {
			continue
		}
		if f.To != "" && v.Date > f.To {
			continue
		}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.resolved != b.resolved {
			return a.resolved
		}
		if !a.resolved {
			if a.Booking.Date != b.Booking.Date {
				return a.Booking.Date < b.Booking.Date
			}
			if a.Booking.StartTime != b.Booking.StartTime {
				return a.Booking.StartTime < b.Booking.StartTime
			}
		} else if !a.startsAt.Equal(b.startsAt) {
			return a.startsAt.Before(b.startsAt)
		}
		return a.Booking.ID < b.Booking.ID
	})
	return out
}

func project(b model.Booking, zone string) (View, bool) {
	v := View{Booking: b, Date: b.Date, Start: b.StartTime, End: b.EndTime, Zone: b.BusinessTimezone}
	start, err := tz.Compose(b.Date, b.StartTime, b.BusinessTimezone)
	if err != nil {
		return v, false
	}
	v.startsAt, v.resolved = start, true
	if zone == "" || zone == b.BusinessTimezone {
		return v, true
	}
	end, err := tz.Compose(b.Date, b.EndTime, b.BusinessTimezone)
	if err != nil {
		return v, false
	}
	date, startClock, err := tz.Project(start, zone)
	if err != nil {
		return v, false
	}
	_, endClock, err := tz.Project(end, zone)
	if err != nil {
		return v, false
	}
	v.Date, v.Start, v.End, v.Zone = date, startClock, endClock, zone
	return v, true
}
