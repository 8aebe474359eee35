package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/outbox"
)

// MemoryBookings keeps bookings in process. Every mutation runs under one mutex, so the capacity
// count and insert in Reserve are atomic.
type MemoryBookings struct {
	mu          sync.Mutex
	bookings    map[string]model.Booking
	idempotency map[idempotencyKey]string
	outbox      *outbox.Memory
}

type idempotencyKey struct {
	agentID string
	key     string
}

func NewMemoryBookings(ob *outbox.Memory) *MemoryBookings {
	if ob == nil {
		ob = outbox.NewMemory()
	}
	return &MemoryBookings{bookings: map[string]model.Booking{}, idempotency: map[idempotencyKey]string{}, outbox: ob}
}

func (s *MemoryBookings) Outbox() *outbox.Memory { return s.outbox }

func (s *MemoryBookings) Get(_ context.Context, agentID, id string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.AgentID != agentID {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *MemoryBookings) ListByAgent(_ context.Context, agentID string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(b model.Booking) bool { return b.AgentID == agentID }), nil
}

// ListBetween returns the agent's bookings whose stored date lies in [from, to].
func (s *MemoryBookings) ListBetween(_ context.Context, agentID, from, to string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(b model.Booking) bool { return b.AgentID == agentID && b.Date >= from && b.Date <= to }), nil
}

func (s *MemoryBookings) filter(keep func(model.Booking) bool) []model.Booking {
	out := []model.Booking{}
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// countActive counts active bookings that overlap the instants of next, whatever zone they
// were booked in.
func (s *MemoryBookings) countActive(next model.Booking, excludeID string) (int, error) {
	start, end, err := next.Span("")
	if err != nil {
		return 0, fmt.Errorf("booking %s span: %w", next.ID, err)
	}
	key := next.SlotKey()
	n := 0
	for _, b := range s.bookings {
		if b.ID != excludeID && b.AgentID == next.AgentID && b.Active() && b.Occupies(key, start, end, next.BusinessTimezone) {
			n++
		}
	}
	return n, nil
}

// Reserve inserts b when its slot has a free seat. A repeated idempotency key for the agent
// returns the booking it produced first, with replayed set and nothing written.
func (s *MemoryBookings) Reserve(ctx context.Context, b model.Booking, capacity int, idempotency string, events ...outbox.Event) (model.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ik := idempotencyKey{agentID: b.AgentID, key: idempotency}
	if idempotency != "" {
		if id, ok := s.idempotency[ik]; ok {
			return s.bookings[id], true, nil
		}
	}
	n, err := s.countActive(b, "")
	if err != nil {
		return model.Booking{}, false, err
	}
	if n >= capacity {
		return model.Booking{}, false, ErrCapacityExhausted
	}
	if _, dup := s.bookings[b.ID]; dup {
		return model.Booking{}, false, fmt.Errorf("booking %s already exists", b.ID)
	}
	s.bookings[b.ID] = b
	if idempotency != "" {
		s.idempotency[ik] = b.ID
	}
	for _, evt := range events {
		s.outbox.Append(ctx, evt)
	}
	return b, false, nil
}

func (s *MemoryBookings) Update(ctx context.Context, agentID, id string, fn func(*model.Booking) ([]outbox.Event, error)) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.AgentID != agentID {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	events, err := fn(&b)
	if err != nil {
		return model.Booking{}, err
	}
	s.bookings[id] = b
	for _, evt := range events {
		s.outbox.Append(ctx, evt)
	}
	return b, nil
}

func (s *MemoryBookings) Replace(ctx context.Context, agentID, oldID string, next model.Booking, capacity int, fn func(old, next *model.Booking) ([]outbox.Event, error)) (model.Booking, model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.bookings[oldID]
	if !ok || old.AgentID != agentID {
		return model.Booking{}, model.Booking{}, fmt.Errorf("booking %s: %w", oldID, ErrNotFound)
	}
	events, err := fn(&old, &next)
	if err != nil {
		return model.Booking{}, model.Booking{}, err
	}
	n, err := s.countActive(next, oldID)
	if err != nil {
		return model.Booking{}, model.Booking{}, err
	}
	if n >= capacity {
		return model.Booking{}, model.Booking{}, ErrCapacityExhausted
	}
	s.bookings[oldID] = old
	s.bookings[next.ID] = next
	for _, evt := range events {
		s.outbox.Append(ctx, evt)
	}
	return old, next, nil
}

// MemorySettings keeps agent settings in process. Values are cloned on the way in and out.
type MemorySettings struct {
	mu   sync.RWMutex
	byID map[string]model.Settings
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{byID: map[string]model.Settings{}}
}

func (s *MemorySettings) Get(_ context.Context, agentID string) (model.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[agentID]
	if !ok {
		return model.Settings{}, fmt.Errorf("settings for %s: %w", agentID, ErrNotFound)
	}
	return v.Clone(), nil
}

func (s *MemorySettings) Put(_ context.Context, v model.Settings) error {
	if v.AgentID == "" {
		return fmt.Errorf("settings without agent id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[v.AgentID] = v.Clone()
	return nil
}
