package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	otelx "github.com/md-rashed-zaman/agentbook/libs/otel"
)

// DefaultMemoryLimit caps the unpublished records a Memory outbox holds.
const DefaultMemoryLimit = 10000

// Memory is an in-process outbox used when no database is configured. Published records are
// removed; past the limit the oldest unclaimed records are dropped.
type Memory struct {
	mu      sync.Mutex
	limit   int
	nextID  int64
	dropped int64
	records []Record
	claimed map[int64]bool
}

func NewMemory() *Memory {
	return NewMemoryWithLimit(DefaultMemoryLimit)
}

func NewMemoryWithLimit(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Memory{limit: limit, claimed: map[int64]bool{}}
}

func (m *Memory) Append(ctx context.Context, evt Event) {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.records = append(m.records, Record{
		ID:            m.nextID,
		EventID:       uuid.NewString(),
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		AgentID:       evt.AgentID,
		EventType:     evt.EventType,
		Payload:       append([]byte(nil), evt.Payload...),
		Traceparent:   traceparent,
		Tracestate:    tracestate,
		CreatedAt:     time.Now().UTC(),
	})
	for len(m.records) > m.limit {
		i := 0
		for i < len(m.records) && m.claimed[m.records[i].ID] {
			i++
		}
		if i == len(m.records) {
			break
		}
		m.records = append(m.records[:i], m.records[i+1:]...)
		m.dropped++
	}
}

// Records returns the unpublished records in insertion order.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Dropped counts records discarded because the outbox was full.
func (m *Memory) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Memory) Claim(_ context.Context, limit int) ([]Record, func(context.Context, bool) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var batch []Record
	for _, r := range m.records {
		if len(batch) >= limit {
			break
		}
		if m.claimed[r.ID] {
			continue
		}
		m.claimed[r.ID] = true
		batch = append(batch, r)
	}
	done := func(_ context.Context, published bool) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		sent := make(map[int64]bool, len(batch))
		for _, r := range batch {
			delete(m.claimed, r.ID)
			sent[r.ID] = published
		}
		if !published {
			return nil
		}
		kept := m.records[:0]
		for _, r := range m.records {
			if !sent[r.ID] {
				kept = append(kept, r)
			}
		}
		m.records = kept
		return nil
	}
	return batch, done, nil
}
