package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/agentbook/libs/kafkax"
)

type fakeWriter struct {
	fail bool
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.fail {
		return errors.New("broker down")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func newTestPublisher(src Source, batch int) *Publisher {
	return NewPublisher(src, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{Brokers: "localhost:9092", BatchSize: batch})
}

func TestPublishBatchMarksPublished(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	mem.Append(ctx, Event{AggregateType: "booking", AggregateID: "b1", AgentID: "agent-1", EventType: "booking.reserved.v1", Payload: []byte(`{}`)})
	mem.Append(ctx, Event{AggregateType: "booking", AggregateID: "b1", AgentID: "agent-1", EventType: "booking.cancelled.v1", Payload: []byte(`{}`)})
	mem.Append(ctx, Event{AggregateType: "booking", AggregateID: "b2", AgentID: "agent-2", EventType: "booking.reserved.v1", Payload: []byte(`{}`)})

	w := &fakeWriter{}
	p := newTestPublisher(mem, 2)
	n, err := p.PublishBatch(ctx, w)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 published, got %d (%v)", n, err)
	}
	if mem.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", mem.Pending())
	}
	n, err = p.PublishBatch(ctx, w)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 published, got %d (%v)", n, err)
	}
	if len(w.msgs) != 3 {
		t.Fatalf("expected 3 messages written, got %d", len(w.msgs))
	}
	first := w.msgs[0]
	if first.Topic != "booking.reserved.v1" || string(first.Key) != "agent-1" {
		t.Fatalf("unexpected message routing %s/%s", first.Topic, first.Key)
	}
	if kafkax.HeaderValue(first.Headers, kafkax.HeaderEventID) == "" {
		t.Fatal("expected event id header")
	}
}

func TestPublishBatchReleasesOnFailure(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	mem.Append(ctx, Event{AggregateID: "b1", EventType: "booking.reserved.v1"})

	p := newTestPublisher(mem, 10)
	if _, err := p.PublishBatch(ctx, &fakeWriter{fail: true}); err == nil {
		t.Fatal("expected write error")
	}
	if mem.Pending() != 1 {
		t.Fatalf("expected record still pending, got %d", mem.Pending())
	}
	w := &fakeWriter{}
	if n, err := p.PublishBatch(ctx, w); err != nil || n != 1 {
		t.Fatalf("expected retry to publish, got %d (%v)", n, err)
	}
	if string(w.msgs[0].Key) != "b1" {
		t.Fatalf("expected aggregate id key without agent, got %s", w.msgs[0].Key)
	}
}

func TestPublishBatchEmpty(t *testing.T) {
	p := newTestPublisher(NewMemory(), 10)
	if n, err := p.PublishBatch(context.Background(), &fakeWriter{}); err != nil || n != 0 {
		t.Fatalf("expected no-op, got %d (%v)", n, err)
	}
}

func TestMemoryDropsOldestPastLimit(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryWithLimit(3)
	for _, id := range []string{"b1", "b2", "b3", "b4", "b5"} {
		mem.Append(ctx, Event{AggregateID: id, EventType: "booking.reserved.v1"})
	}
	recs := mem.Records()
	if len(recs) != 3 || recs[0].AggregateID != "b3" || mem.Dropped() != 2 {
		t.Fatalf("expected b3..b5 kept with 2 dropped, got %d records (dropped %d)", len(recs), mem.Dropped())
	}
}

func TestMemoryKeepsClaimedRecordsWhenFull(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryWithLimit(2)
	mem.Append(ctx, Event{AggregateID: "b1", EventType: "booking.reserved.v1"})
	mem.Append(ctx, Event{AggregateID: "b2", EventType: "booking.reserved.v1"})

	batch, done, _ := mem.Claim(ctx, 1)
	mem.Append(ctx, Event{AggregateID: "b3", EventType: "booking.reserved.v1"})
	recs := mem.Records()
	if len(recs) != 2 || recs[0].AggregateID != "b1" || recs[1].AggregateID != "b3" {
		t.Fatalf("expected claimed b1 kept and b2 dropped, got %+v", recs)
	}
	if err := done(ctx, true); err != nil || len(batch) != 1 {
		t.Fatalf("done: %v", err)
	}
	if mem.Pending() != 1 {
		t.Fatalf("expected published record removed, got %d pending", mem.Pending())
	}
}
