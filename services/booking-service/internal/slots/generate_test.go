package slots

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
)

const monday = "2025-01-06"

func individual(duration, buffer int) model.Policy {
	return model.Policy{MeetingDurationMinutes: duration, BufferMinutes: buffer, BookingType: model.BookingIndividual, Timezone: "UTC"}
}

func TestGenerate_WeekdayWithBreak(t *testing.T) {
	windows, err := availability.Resolve(monday, availability.DefaultWeek(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	lunch := []timewindow.Window{{Start: "12:00", End: "13:00"}}
	got, err := Generate(Request{Date: monday, Windows: windows, Breaks: lunch, Policy: individual(30, 10)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	want := []string{"09:00", "09:40", "10:20", "11:00", "13:00", "13:40", "14:20", "15:00", "15:40", "16:20"}
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d (%v)", len(want), len(got), got)
	}
	for i, s := range got {
		if s.Start != want[i] {
			t.Fatalf("slot %d: expected start %s, got %s", i, want[i], s.Start)
		}
		if timewindow.Overlaps(timewindow.Window{Start: s.Start, End: s.End}, lunch[0]) {
			t.Fatalf("slot %s-%s overlaps lunch", s.Start, s.End)
		}
	}
	if got[1].End != "10:10" {
		t.Fatalf("expected second slot to end 10:10, got %s", got[1].End)
	}
}

func TestGenerate_AllDayOverrideYieldsNothing(t *testing.T) {
	overrides := map[string]model.DateOverride{monday: {Date: monday, AllDay: true}}
	windows, _ := availability.Resolve(monday, availability.DefaultWeek(), overrides)
	got, err := Generate(Request{Date: monday, Windows: windows, Policy: individual(30, 0)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no slots, got %v", got)
	}
}

func TestGenerate_OverrideWindowConfinesSlots(t *testing.T) {
	overrides := map[string]model.DateOverride{
		monday: {Date: monday, TimeWindows: []timewindow.Window{{Start: "14:00", End: "15:00"}}},
	}
	windows, _ := availability.Resolve(monday, availability.DefaultWeek(), overrides)
	got, err := Generate(Request{Date: monday, Windows: windows, Policy: individual(30, 0)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 2 || got[0].Start != "14:00" || got[1].End != "15:00" {
		t.Fatalf("expected 14:00-14:30 and 14:30-15:00, got %v", got)
	}
}

func TestGenerate_IrregularStartPropagates(t *testing.T) {
	windows := []timewindow.Window{{Start: "09:07", End: "10:00"}}
	got, err := Generate(Request{Date: monday, Windows: windows, Policy: individual(20, 5)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 2 || got[0].Start != "09:07" || got[1].Start != "09:32" {
		t.Fatalf("expected 09:07 and 09:32, got %v", got)
	}
}

func TestGenerate_EndOfDayWindow(t *testing.T) {
	windows := []timewindow.Window{{Start: "23:00", End: "24:00"}}
	got, err := Generate(Request{Date: monday, Windows: windows, Policy: individual(30, 0)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 2 || got[1].End != "24:00" {
		t.Fatalf("expected last slot to end 24:00, got %v", got)
	}
}

func TestGenerate_IndividualBookedSlotExcluded(t *testing.T) {
	windows := []timewindow.Window{{Start: "09:00", End: "10:00"}}
	bookings := []model.Booking{
		{Date: monday, StartTime: "09:00", EndTime: "09:30", Status: model.StatusConfirmed},
		{Date: monday, StartTime: "09:30", EndTime: "10:00", Status: model.StatusCancelled},
		{Date: "2025-01-07", StartTime: "09:30", EndTime: "10:00", Status: model.StatusConfirmed},
	}
	got, err := Generate(Request{Date: monday, Windows: windows, Policy: individual(30, 0), Bookings: bookings, IncludeFull: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 1 || got[0].Start != "09:30" || got[0].RemainingCapacity != 1 {
		t.Fatalf("expected only 09:30 free, got %v", got)
	}
}

func TestGenerate_BookingFromEarlierZoneBlocksItsInstant(t *testing.T) {
	policy := individual(30, 0)
	policy.Timezone = "America/New_York"
	windows := []timewindow.Window{{Start: "20:00", End: "22:00"}}
	// 02:00 UTC on the 7th is 21:00 New York on the 6th.
	bookings := []model.Booking{
		{Date: "2025-01-07", StartTime: "02:00", EndTime: "02:30", BusinessTimezone: "UTC", Status: model.StatusConfirmed},
	}
	got, err := Generate(Request{Date: monday, Windows: windows, Policy: policy, Bookings: bookings})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, ok := Contains(got, "21:00", "21:30"); ok {
		t.Fatalf("expected 21:00 taken by the UTC booking, got %v", got)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 free slots, got %v", got)
	}
}

func TestGenerate_GroupCapacity(t *testing.T) {
	policy := model.Policy{MeetingDurationMinutes: 60, BookingType: model.BookingGroup, CapacityPerSlot: 3, Timezone: "UTC"}
	windows := []timewindow.Window{{Start: "09:00", End: "11:00"}}
	var bookings []model.Booking
	for i := 0; i < 3; i++ {
		bookings = append(bookings, model.Booking{Date: monday, StartTime: "09:00", EndTime: "10:00", Status: model.StatusConfirmed})
	}
	bookings = append(bookings, model.Booking{Date: monday, StartTime: "10:00", EndTime: "11:00", Status: model.StatusConfirmed})

	got, err := Generate(Request{Date: monday, Windows: windows, Policy: policy, Bookings: bookings})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 1 || got[0].Start != "10:00" || got[0].RemainingCapacity != 2 {
		t.Fatalf("expected 10:00 with 2 seats, got %v", got)
	}

	withFull, err := Generate(Request{Date: monday, Windows: windows, Policy: policy, Bookings: bookings, IncludeFull: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(withFull) != 2 || !withFull[0].Full || withFull[0].RemainingCapacity != 0 {
		t.Fatalf("expected full 09:00 slot surfaced, got %v", withFull)
	}
	if len(Bookable(withFull)) != 1 {
		t.Fatalf("expected Bookable to drop full slot, got %v", Bookable(withFull))
	}
}

func TestGenerate_SkipsEndedSlots(t *testing.T) {
	policy := model.Policy{MeetingDurationMinutes: 30, BookingType: model.BookingIndividual, Timezone: "Asia/Tokyo"}
	windows := []timewindow.Window{{Start: "09:00", End: "11:00"}}
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	now := time.Date(2025, 1, 6, 9, 45, 0, 0, tokyo).UTC()

	got, err := Generate(Request{Date: monday, Windows: windows, Policy: policy, Now: now})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// 09:00-09:30 has ended; 09:30-10:00 is in progress and still listed.
	if len(got) != 3 || got[0].Start != "09:30" {
		t.Fatalf("expected slots from 09:30, got %v", got)
	}
}

func TestGenerate_InvalidPolicy(t *testing.T) {
	windows := []timewindow.Window{{Start: "09:00", End: "10:00"}}
	for _, p := range []model.Policy{individual(0, 0), individual(30, -1)} {
		if _, err := Generate(Request{Date: monday, Windows: windows, Policy: p}); !errors.Is(err, model.ErrInvalidPolicy) {
			t.Fatalf("expected ErrInvalidPolicy for %+v, got %v", p, err)
		}
	}
}

func TestGenerate_NoOverlapProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		s := rng.Intn(20 * 60)
		e := s + 1 + rng.Intn(timewindow.MinutesPerDay-s)
		windows := []timewindow.Window{timewindow.FromMinutes(s, e)}
		bs := rng.Intn(timewindow.MinutesPerDay - 1)
		breaks := []timewindow.Window{timewindow.FromMinutes(bs, bs+1+rng.Intn(90))}
		policy := individual(5+rng.Intn(90), rng.Intn(30))

		got, err := Generate(Request{Date: monday, Windows: windows, Breaks: breaks, Policy: policy})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		for j := 1; j < len(got); j++ {
			prev := timewindow.Window{Start: got[j-1].Start, End: got[j-1].End}
			cur := timewindow.Window{Start: got[j].Start, End: got[j].End}
			if timewindow.Overlaps(prev, cur) {
				t.Fatalf("iteration %d: %s overlaps %s", i, prev, cur)
			}
		}
		for _, sl := range got {
			w := timewindow.Window{Start: sl.Start, End: sl.End}
			if timewindow.Overlaps(w, breaks[0]) {
				t.Fatalf("iteration %d: slot %s overlaps break %s", i, w, breaks[0])
			}
			ws, we, _ := w.Minutes()
			if we-ws != policy.MeetingDurationMinutes {
				t.Fatalf("iteration %d: slot %s has wrong length", i, w)
			}
		}
	}
}

func TestContains(t *testing.T) {
	in := []Slot{{Start: "09:00", End: "09:30", RemainingCapacity: 1}}
	if _, ok := Contains(in, "09:00", "09:30"); !ok {
		t.Fatal("expected slot to be found")
	}
	if _, ok := Contains(in, "09:00", "10:00"); ok {
		t.Fatal("expected partial range not to match")
	}
}
