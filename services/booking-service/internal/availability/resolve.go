// Package availability layers date overrides over weekly rules to produce the effective
// windows of a calendar date.
package availability

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
)

const dateLayout = "2006-01-02"

// maxRangeDays caps the length of a ResolveRange calendar.
const maxRangeDays = 366

// Resolve returns the effective windows for an ISO date. An override replaces the weekday rule
// entirely; AllDay closes the date. A date with neither an override nor a weekday rule has no
// availability. The weekday is taken from the civil date, independent of any zone.
func Resolve(date string, weekly []model.WeeklyRule, overrides map[string]model.DateOverride) ([]timewindow.Window, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return resolveDay(day, weekly, overrides), nil
}

func resolveDay(day time.Time, weekly []model.WeeklyRule, overrides map[string]model.DateOverride) []timewindow.Window {
	if o, ok := overrides[day.Format(dateLayout)]; ok {
		if o.AllDay {
			return []timewindow.Window{}
		}
		return append([]timewindow.Window{}, o.TimeWindows...)
	}
	wd := int(day.Weekday())
	for _, r := range weekly {
		if r.DayOfWeek != wd {
			continue
		}
		if !r.Available {
			return []timewindow.Window{}
		}
		return append([]timewindow.Window{}, r.TimeWindows...)
	}
	return []timewindow.Window{}
}

// ResolveRange resolves every date in [from, to] inclusive.
func ResolveRange(from, to string, weekly []model.WeeklyRule, overrides map[string]model.DateOverride) (map[string][]timewindow.Window, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("to %s is before from %s", to, from)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxRangeDays {
		return nil, fmt.Errorf("range of %d days exceeds %d", days, maxRangeDays)
	}

	out := make(map[string][]timewindow.Window)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out[d.Format(dateLayout)] = resolveDay(d, weekly, overrides)
	}
	return out, nil
}

// DefaultWeek is the starter schedule written for a new agent: Monday to Friday 09:00-17:00.
// It is never consulted during resolution.
func DefaultWeek() []model.WeeklyRule {
	rules := make([]model.WeeklyRule, 7)
	for d := 0; d < 7; d++ {
		rules[d] = model.WeeklyRule{DayOfWeek: d, TimeWindows: []timewindow.Window{}}
		if d >= int(time.Monday) && d <= int(time.Friday) {
			rules[d].Available = true
			rules[d].TimeWindows = []timewindow.Window{{Start: "09:00", End: "17:00"}}
		}
	}
	return rules
}
