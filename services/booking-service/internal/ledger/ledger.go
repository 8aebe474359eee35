// Package ledger records reservations against slot capacity and answers booking queries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/locks"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/slots"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

var (
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrNotFound          = errors.New("booking not found")
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrInvalidRequest    = errors.New("invalid booking request")
	ErrNotConfigured     = errors.New("agent has no booking settings")
)

// BookingStore persists bookings. Reserve and Replace must count active bookings overlapping the
// target instants and write in one atomic step, failing with storage.ErrCapacityExhausted when
// full. Reserve with a non-empty idempotency key returns the booking an earlier call stored under
// that key, with replayed set.
type BookingStore interface {
	Get(ctx context.Context, agentID, id string) (model.Booking, error)
	ListByAgent(ctx context.Context, agentID string) ([]model.Booking, error)
	ListBetween(ctx context.Context, agentID, from, to string) ([]model.Booking, error)
	Reserve(ctx context.Context, b model.Booking, capacity int, idempotency string, events ...outbox.Event) (stored model.Booking, replayed bool, err error)
	Update(ctx context.Context, agentID, id string, fn func(*model.Booking) ([]outbox.Event, error)) (model.Booking, error)
	Replace(ctx context.Context, agentID, oldID string, next model.Booking, capacity int, fn func(old, next *model.Booking) ([]outbox.Event, error)) (model.Booking, model.Booking, error)
}

type SettingsStore interface {
	Get(ctx context.Context, agentID string) (model.Settings, error)
}

type Ledger struct {
	bookings BookingStore
	settings SettingsStore
	locker   locks.Locker
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDs(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

func New(bookings BookingStore, settings SettingsStore, locker locks.Locker, logger *slog.Logger, opts ...Option) *Ledger {
	if locker == nil {
		locker = locks.NewLocal()
	}
	l := &Ledger{
		bookings: bookings,
		settings: settings,
		locker:   locker,
		logger:   logger,
		tracer:   otel.Tracer("ledger"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type ReserveRequest struct {
	AgentID    string
	Date       string
	Start      string
	End        string
	ViewerZone string
	Location   model.LocationKind
	ViewerID   string

	// IdempotencyKey replays the first booking made with the same key for this agent.
	IdempotencyKey string
}

// neighbourDays covers the widest gap between two zone offsets, so bookings made under an
// earlier policy zone are seen by the dates they now fall on.
const neighbourDays = 2

func (l *Ledger) startSpan(ctx context.Context, name, agentID string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attribute.String("agent_id", agentID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Slots lists the slots of date for the agent, with capacity taken from current bookings.
func (l *Ledger) Slots(ctx context.Context, agentID, date string, includeFull bool) ([]slots.Slot, model.Settings, error) {
	s, err := l.loadSettings(ctx, agentID)
	if err != nil {
		return nil, model.Settings{}, err
	}
	windows, err := availability.Resolve(date, s.Weekly, s.Overrides)
	if err != nil {
		return nil, model.Settings{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	from, to, err := dateRange(date, neighbourDays)
	if err != nil {
		return nil, model.Settings{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	existing, err := l.bookings.ListBetween(ctx, agentID, from, to)
	if err != nil {
		return nil, model.Settings{}, err
	}
	out, err := slots.Generate(slots.Request{
		Date:        date,
		Windows:     windows,
		Breaks:      s.Breaks,
		Policy:      s.Policy,
		Bookings:    existing,
		Now:         l.now(),
		IncludeFull: includeFull,
	})
	if err != nil {
		return nil, model.Settings{}, err
	}
	return out, s, nil
}

func dateRange(date string, days int) (string, string, error) {
	day, err := time.Parse(tz.DateLayout, date)
	if err != nil {
		return "", "", err
	}
	return day.AddDate(0, 0, -days).Format(tz.DateLayout), day.AddDate(0, 0, days).Format(tz.DateLayout), nil
}

func (l *Ledger) loadSettings(ctx context.Context, agentID string) (model.Settings, error) {
	s, err := l.settings.Get(ctx, agentID)
	if storage.IsNotFound(err) {
		return model.Settings{}, fmt.Errorf("%w: %s", ErrNotConfigured, agentID)
	}
	return s, err
}

// offered checks that [start, end) on date is a slot the policy produces, ignoring capacity.
func (l *Ledger) offered(s model.Settings, date, start, end string) error {
	windows, err := availability.Resolve(date, s.Weekly, s.Overrides)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	candidates, err := slots.Generate(slots.Request{
		Date:    date,
		Windows: windows,
		Breaks:  s.Breaks,
		Policy:  s.Policy,
		Now:     l.now(),
	})
	if err != nil {
		return err
	}
	if _, ok := slots.Contains(candidates, start, end); !ok {
		return fmt.Errorf("%w: %s %s-%s is not an open slot", ErrSlotUnavailable, date, start, end)
	}
	return nil
}

func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrCapacityExhausted):
		return fmt.Errorf("%w: capacity exhausted", ErrSlotUnavailable)
	case storage.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// Reserve books one seat of a slot. Capacity is re-checked at commit time under the slot lock.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (b model.Booking, err error) {
	ctx, span := l.startSpan(ctx, "Reserve", req.AgentID)
	defer func() { endSpan(span, err) }()

	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" || req.Date == "" || req.Start == "" || req.End == "" {
		return model.Booking{}, fmt.Errorf("%w: agent, date, start and end are required", ErrInvalidRequest)
	}
	if req.ViewerZone != "" && !tz.IsValidZone(req.ViewerZone) {
		return model.Booking{}, fmt.Errorf("%w: viewer zone %q", tz.ErrInvalidTimezone, req.ViewerZone)
	}

	s, err := l.loadSettings(ctx, req.AgentID)
	if err != nil {
		return model.Booking{}, err
	}
	if !s.Policy.AllowsLocation(req.Location) {
		return model.Booking{}, fmt.Errorf("%w: location %q not offered", ErrInvalidRequest, req.Location)
	}
	if err := l.offered(s, req.Date, req.Start, req.End); err != nil {
		return model.Booking{}, err
	}

	b = model.Booking{
		ID:               l.newID(),
		AgentID:          req.AgentID,
		Date:             req.Date,
		StartTime:        req.Start,
		EndTime:          req.End,
		BusinessTimezone: s.Policy.Timezone,
		UserTimezone:     req.ViewerZone,
		Location:         req.Location,
		ViewerID:         req.ViewerID,
		Status:           model.StatusConfirmed,
		CreatedAt:        l.now().UTC(),
	}
	evt, err := newEvent(EventReserved, b)
	if err != nil {
		return model.Booking{}, err
	}

	unlock, err := l.locker.Lock(ctx, b.SlotKey().String())
	if err != nil {
		return model.Booking{}, fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	stored, replayed, err := l.bookings.Reserve(ctx, b, s.Policy.Capacity(), strings.TrimSpace(req.IdempotencyKey), evt)
	if err != nil {
		return model.Booking{}, storeErr(err)
	}
	if replayed {
		if stored.SlotKey() != b.SlotKey() {
			return model.Booking{}, fmt.Errorf("%w: idempotency key already used for %s %s-%s", ErrInvalidRequest, stored.Date, stored.StartTime, stored.EndTime)
		}
		l.logger.Info("booking replayed", "agent_id", stored.AgentID, "booking_id", stored.ID)
		return stored, nil
	}
	b = stored
	l.logger.Info("booking reserved", "agent_id", b.AgentID, "booking_id", b.ID, "date", b.Date, "start", b.StartTime)
	return b, nil
}

// Cancel marks a booking cancelled. Cancelling a cancelled booking returns it unchanged.
func (l *Ledger) Cancel(ctx context.Context, agentID, id string) (b model.Booking, err error) {
	ctx, span := l.startSpan(ctx, "Cancel", agentID)
	defer func() { endSpan(span, err) }()

	b, err = l.bookings.Update(ctx, agentID, id, func(cur *model.Booking) ([]outbox.Event, error) {
		switch cur.Status {
		case model.StatusCancelled:
			return nil, nil
		case model.StatusCompleted:
			return nil, fmt.Errorf("%w: completed booking cannot be cancelled", ErrInvalidTransition)
		}
		at := l.now().UTC()
		cur.Status = model.StatusCancelled
		cur.CancelledAt = &at
		evt, err := newEvent(EventCancelled, *cur)
		if err != nil {
			return nil, err
		}
		return []outbox.Event{evt}, nil
	})
	if err != nil {
		return model.Booking{}, storeErr(err)
	}
	l.logger.Info("booking cancelled", "agent_id", agentID, "booking_id", id)
	return b, nil
}

// Complete marks a confirmed booking done once its slot has started.
func (l *Ledger) Complete(ctx context.Context, agentID, id string) (b model.Booking, err error) {
	ctx, span := l.startSpan(ctx, "Complete", agentID)
	defer func() { endSpan(span, err) }()

	b, err = l.bookings.Update(ctx, agentID, id, func(cur *model.Booking) ([]outbox.Event, error) {
		switch cur.Status {
		case model.StatusCompleted:
			return nil, nil
		case model.StatusCancelled:
			return nil, fmt.Errorf("%w: cancelled booking cannot be completed", ErrInvalidTransition)
		}
		start, err := tz.Compose(cur.Date, cur.StartTime, cur.BusinessTimezone)
		if err != nil {
			return nil, err
		}
		now := l.now()
		if now.Before(start) {
			return nil, fmt.Errorf("%w: booking has not started", ErrInvalidTransition)
		}
		at := now.UTC()
		cur.Status = model.StatusCompleted
		cur.CompletedAt = &at
		evt, err := newEvent(EventCompleted, *cur)
		if err != nil {
			return nil, err
		}
		return []outbox.Event{evt}, nil
	})
	if err != nil {
		return model.Booking{}, storeErr(err)
	}
	l.logger.Info("booking completed", "agent_id", agentID, "booking_id", id)
	return b, nil
}

// Reschedule cancels the booking and creates its replacement in one step. The original points
// forward to the replacement by id; the replacement points back with the original slot.
func (l *Ledger) Reschedule(ctx context.Context, agentID, id, newDate, newStart, newEnd string) (next model.Booking, err error) {
	ctx, span := l.startSpan(ctx, "Reschedule", agentID)
	defer func() { endSpan(span, err) }()

	s, err := l.loadSettings(ctx, agentID)
	if err != nil {
		return model.Booking{}, err
	}
	if err := l.offered(s, newDate, newStart, newEnd); err != nil {
		return model.Booking{}, err
	}

	next = model.Booking{
		ID:               l.newID(),
		AgentID:          agentID,
		Date:             newDate,
		StartTime:        newStart,
		EndTime:          newEnd,
		BusinessTimezone: s.Policy.Timezone,
		Status:           model.StatusConfirmed,
		CreatedAt:        l.now().UTC(),
	}

	unlock, err := l.locker.Lock(ctx, next.SlotKey().String())
	if err != nil {
		return model.Booking{}, fmt.Errorf("lock slot: %w", err)
	}
	defer unlock()

	_, next, err = l.bookings.Replace(ctx, agentID, id, next, s.Policy.Capacity(), func(old, nb *model.Booking) ([]outbox.Event, error) {
		if old.Status != model.StatusConfirmed {
			return nil, fmt.Errorf("%w: %s booking cannot be rescheduled", ErrInvalidTransition, old.Status)
		}
		if old.SlotKey() == nb.SlotKey() {
			return nil, fmt.Errorf("%w: booking already holds this slot", ErrInvalidRequest)
		}
		nb.UserTimezone = old.UserTimezone
		nb.Location = old.Location
		nb.ViewerID = old.ViewerID
		nb.RescheduledFrom = &model.RescheduleRef{
			BookingID: old.ID,
			Date:      old.Date,
			StartTime: old.StartTime,
			EndTime:   old.EndTime,
		}

		at := l.now().UTC()
		old.Status = model.StatusCancelled
		old.CancelledAt = &at
		old.IsRescheduled = true
		old.RescheduledTo = nb.ID

		evt, err := newEvent(EventRescheduled, *nb)
		if err != nil {
			return nil, err
		}
		return []outbox.Event{evt}, nil
	})
	if err != nil {
		return model.Booking{}, storeErr(err)
	}
	l.logger.Info("booking rescheduled", "agent_id", agentID, "booking_id", id, "replacement_id", next.ID)
	return next, nil
}

func (l *Ledger) Get(ctx context.Context, agentID, id string) (model.Booking, error) {
	b, err := l.bookings.Get(ctx, agentID, id)
	return b, storeErr(err)
}
