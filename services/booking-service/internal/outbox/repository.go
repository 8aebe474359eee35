package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/agentbook/libs/db"
	otelx "github.com/md-rashed-zaman/agentbook/libs/otel"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, agent_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.AggregateType, evt.AggregateID, evt.AgentID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, agent_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.AgentID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// Claim locks a batch inside a transaction that stays open until done is called.
func (r *Repository) Claim(ctx context.Context, limit int) ([]Record, func(context.Context, bool) error, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := r.FetchUnpublished(ctx, tx, limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, err
	}
	done := func(ctx context.Context, published bool) error {
		defer func() { _ = tx.Rollback(ctx) }()
		if !published {
			return nil
		}
		ids := make([]int64, 0, len(records))
		for _, rcd := range records {
			ids = append(ids, rcd.ID)
		}
		if err := r.MarkPublished(ctx, tx, ids); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
	return records, done, nil
}
