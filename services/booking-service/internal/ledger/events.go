package ledger

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

const (
	EventReserved    = "booking.reserved.v1"
	EventCancelled   = "booking.cancelled.v1"
	EventRescheduled = "booking.rescheduled.v1"
	EventCompleted   = "booking.completed.v1"
)

type eventPayload struct {
	BookingID        string               `json:"booking_id"`
	AgentID          string               `json:"agent_id"`
	Status           model.BookingStatus  `json:"status"`
	Date             string               `json:"date"`
	StartTime        string               `json:"start_time"`
	EndTime          string               `json:"end_time"`
	BusinessTimezone string               `json:"business_timezone"`
	UserTimezone     string               `json:"user_timezone,omitempty"`
	StartsAt         string               `json:"starts_at,omitempty"`
	EndsAt           string               `json:"ends_at,omitempty"`
	Location         model.LocationKind   `json:"location,omitempty"`
	ViewerID         string               `json:"viewer_id,omitempty"`
	RescheduledFrom  *model.RescheduleRef `json:"rescheduled_from,omitempty"`
}

func newEvent(eventType string, b model.Booking) (outbox.Event, error) {
	p := eventPayload{
		BookingID:        b.ID,
		AgentID:          b.AgentID,
		Status:           b.Status,
		Date:             b.Date,
		StartTime:        b.StartTime,
		EndTime:          b.EndTime,
		BusinessTimezone: b.BusinessTimezone,
		UserTimezone:     b.UserTimezone,
		Location:         b.Location,
		ViewerID:         b.ViewerID,
		RescheduledFrom:  b.RescheduledFrom,
	}
	if t, err := tz.Compose(b.Date, b.StartTime, b.BusinessTimezone); err == nil {
		p.StartsAt = t.UTC().Format(time.RFC3339)
	}
	if t, err := tz.Compose(b.Date, b.EndTime, b.BusinessTimezone); err == nil {
		p.EndsAt = t.UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		AgentID:       b.AgentID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
