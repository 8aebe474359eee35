package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
)

// 2025-01-06 is a Monday.
const monday = "2025-01-06"

func TestResolve_WeeklyRule(t *testing.T) {
	got, err := Resolve(monday, DefaultWeek(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0] != (timewindow.Window{Start: "09:00", End: "17:00"}) {
		t.Fatalf("expected 09:00-17:00, got %v", got)
	}

	sunday, err := Resolve("2025-01-05", DefaultWeek(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(sunday) != 0 {
		t.Fatalf("expected closed sunday, got %v", sunday)
	}
}

func TestResolve_AllDayOverrideCloses(t *testing.T) {
	overrides := map[string]model.DateOverride{
		monday: {Date: monday, AllDay: true, TimeWindows: []timewindow.Window{{Start: "10:00", End: "11:00"}}},
	}
	got, err := Resolve(monday, DefaultWeek(), overrides)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no windows, got %v", got)
	}
}

func TestResolve_OverrideReplacesRule(t *testing.T) {
	overrides := map[string]model.DateOverride{
		monday: {Date: monday, TimeWindows: []timewindow.Window{{Start: "14:00", End: "15:00"}}},
	}
	got, err := Resolve(monday, DefaultWeek(), overrides)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].Start != "14:00" || got[0].End != "15:00" {
		t.Fatalf("expected only 14:00-15:00, got %v", got)
	}
}

func TestResolve_OverrideOpensClosedDay(t *testing.T) {
	overrides := map[string]model.DateOverride{
		"2025-01-05": {Date: "2025-01-05", TimeWindows: []timewindow.Window{{Start: "10:00", End: "12:00"}}},
	}
	got, err := Resolve("2025-01-05", DefaultWeek(), overrides)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected override to open sunday, got %v", got)
	}
}

func TestResolve_NoRuleMeansNoAvailability(t *testing.T) {
	got, err := Resolve(monday, nil, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil windows, got %#v", got)
	}
}

func TestResolve_DoesNotAliasInput(t *testing.T) {
	week := DefaultWeek()
	got, _ := Resolve(monday, week, nil)
	got[0].End = "12:00"
	if week[1].TimeWindows[0].End != "17:00" {
		t.Fatal("resolve result aliases weekly rule storage")
	}
}

func TestResolve_InvalidDate(t *testing.T) {
	if _, err := Resolve("06-JAN-2025", DefaultWeek(), nil); err == nil {
		t.Fatal("expected error for non-ISO date")
	}
}

func TestResolve_AllDayPropertyAcrossYear(t *testing.T) {
	week := DefaultWeek()
	for d := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == 2025; d = d.AddDate(0, 0, 1) {
		date := d.Format(dateLayout)
		overrides := map[string]model.DateOverride{date: {Date: date, AllDay: true}}
		got, err := Resolve(date, week, overrides)
		if err != nil {
			t.Fatalf("resolve %s: %v", date, err)
		}
		if len(got) != 0 {
			t.Fatalf("%s: expected closed, got %v", date, got)
		}
	}
}

func TestResolveRange(t *testing.T) {
	overrides := map[string]model.DateOverride{
		"2025-01-07": {Date: "2025-01-07", AllDay: true},
	}
	got, err := ResolveRange("2025-01-05", "2025-01-11", DefaultWeek(), overrides)
	if err != nil {
		t.Fatalf("resolve range: %v", err)
	}
	if len(got) != 7 {
		t.Fatalf("expected 7 days, got %d", len(got))
	}
	if len(got["2025-01-07"]) != 0 {
		t.Fatalf("expected tuesday closed by override, got %v", got["2025-01-07"])
	}
	if len(got["2025-01-08"]) != 1 {
		t.Fatalf("expected wednesday open, got %v", got["2025-01-08"])
	}

	if _, err := ResolveRange("2025-01-11", "2025-01-05", DefaultWeek(), nil); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := ResolveRange("2025-01-01", "2027-01-01", DefaultWeek(), nil); err == nil {
		t.Fatal("expected error for oversized range")
	}
}
