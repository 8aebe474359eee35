package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/agentbook/libs/db"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/outbox"
)

type BookingRepository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outboxRepo: outboxRepo}
}

const bookingColumns = `
	id, agent_id, booking_date, start_time, end_time, business_timezone,
	COALESCE(user_timezone, ''), COALESCE(location, ''), COALESCE(viewer_id, ''), status, is_rescheduled,
	rescheduled_from_id, rescheduled_from_date, rescheduled_from_start, rescheduled_from_end,
	COALESCE(rescheduled_to, ''), created_at, cancelled_at, completed_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var fromID, fromDate, fromStart, fromEnd *string
	err := row.Scan(
		&b.ID,
		&b.AgentID,
		&b.Date,
		&b.StartTime,
		&b.EndTime,
		&b.BusinessTimezone,
		&b.UserTimezone,
		&b.Location,
		&b.ViewerID,
		&b.Status,
		&b.IsRescheduled,
		&fromID,
		&fromDate,
		&fromStart,
		&fromEnd,
		&b.RescheduledTo,
		&b.CreatedAt,
		&b.CancelledAt,
		&b.CompletedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	if fromID != nil {
		ref := model.RescheduleRef{BookingID: *fromID}
		if fromDate != nil {
			ref.Date = *fromDate
		}
		if fromStart != nil {
			ref.StartTime = *fromStart
		}
		if fromEnd != nil {
			ref.EndTime = *fromEnd
		}
		b.RescheduledFrom = &ref
	}
	return b, nil
}

func (r *BookingRepository) Get(ctx context.Context, agentID, id string) (model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND agent_id = $2
	`, id, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, err
}

func (r *BookingRepository) ListByAgent(ctx context.Context, agentID string) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE agent_id = $1
		ORDER BY created_at, id
	`, agentID)
}

// ListBetween returns the agent's bookings whose stored date lies in [from, to].
func (r *BookingRepository) ListBetween(ctx context.Context, agentID, from, to string) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE agent_id = $1 AND booking_date BETWEEN $2 AND $3
		ORDER BY starts_at, created_at
	`, agentID, from, to)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// lockAgent serializes capacity writers of one agent for the rest of tx. Bookings made under
// different policy zones can overlap without sharing a slot key, so the lock is per agent.
func lockAgent(ctx context.Context, tx pgx.Tx, agentID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, agentID)
	return err
}

// countActive counts active bookings overlapping the instants of next.
func countActive(ctx context.Context, tx pgx.Tx, next model.Booking, excludeID string) (int, error) {
	start, end, err := next.Span("")
	if err != nil {
		return 0, fmt.Errorf("booking %s span: %w", next.ID, err)
	}
	var n int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE agent_id = $1
			AND starts_at < $3
			AND ends_at > $2
			AND status <> 'cancelled'
			AND id <> $4
	`, next.AgentID, start, end, excludeID).Scan(&n)
	return n, err
}

func insertBooking(ctx context.Context, tx pgx.Tx, b model.Booking) error {
	var fromID, fromDate, fromStart, fromEnd *string
	if b.RescheduledFrom != nil {
		fromID, fromDate, fromStart, fromEnd = &b.RescheduledFrom.BookingID, &b.RescheduledFrom.Date, &b.RescheduledFrom.StartTime, &b.RescheduledFrom.EndTime
	}
	startsAt, endsAt, err := b.Span("")
	if err != nil {
		return fmt.Errorf("booking %s span: %w", b.ID, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bookings
			(id, agent_id, booking_date, start_time, end_time, business_timezone, starts_at, ends_at, user_timezone,
			location, viewer_id, status, is_rescheduled, rescheduled_from_id, rescheduled_from_date, rescheduled_from_start,
			rescheduled_from_end, rescheduled_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''),
			NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15, $16,
			$17, NULLIF($18, ''), $19)
	`, b.ID, b.AgentID, b.Date, b.StartTime, b.EndTime, b.BusinessTimezone, startsAt, endsAt, b.UserTimezone,
		string(b.Location), b.ViewerID, string(b.Status), b.IsRescheduled, fromID, fromDate, fromStart,
		fromEnd, b.RescheduledTo, b.CreatedAt)
	return err
}

func updateBooking(ctx context.Context, tx pgx.Tx, b model.Booking) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $3,
			is_rescheduled = $4,
			rescheduled_to = NULLIF($5, ''),
			cancelled_at = $6,
			completed_at = $7
		WHERE id = $1 AND agent_id = $2
	`, b.ID, b.AgentID, string(b.Status), b.IsRescheduled, b.RescheduledTo, b.CancelledAt, b.CompletedAt)
	return err
}

func (r *BookingRepository) insertEvents(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	for _, evt := range events {
		if err := r.outboxRepo.Insert(ctx, tx, evt); err != nil {
			return fmt.Errorf("write outbox event %s: %w", evt.EventType, err)
		}
	}
	return nil
}

// lockIdempotencyKey claims the (agent, key) row for the rest of tx and reports the booking an
// earlier request finalized under it, if any.
func lockIdempotencyKey(ctx context.Context, tx pgx.Tx, agentID, key string) (string, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (agent_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (agent_id, idempotency_key) DO NOTHING
	`, agentID, key)
	if err != nil {
		return "", err
	}
	var bookingID string
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(booking_id, '')
		FROM booking_idempotency_keys
		WHERE agent_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, agentID, key).Scan(&bookingID)
	return bookingID, err
}

func finalizeIdempotencyKey(ctx context.Context, tx pgx.Tx, agentID, key, bookingID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			updated_at = now()
		WHERE agent_id = $1 AND idempotency_key = $2
	`, agentID, key, bookingID)
	return err
}

// Reserve inserts b only if its instants overlap fewer than capacity active bookings. The count
// and the insert share one transaction behind an advisory lock on the agent. A repeated
// idempotency key returns the booking it produced first, with replayed set.
func (r *BookingRepository) Reserve(ctx context.Context, b model.Booking, capacity int, idempotency string, events ...outbox.Event) (model.Booking, bool, error) {
	var (
		out      model.Booking
		replayed bool
	)
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if idempotency != "" {
			prior, err := lockIdempotencyKey(ctx, tx, b.AgentID, idempotency)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if prior != "" {
				existing, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+`
					FROM bookings
					WHERE id = $1 AND agent_id = $2
				`, prior, b.AgentID))
				if err != nil {
					return fmt.Errorf("load idempotent booking %s: %w", prior, err)
				}
				out, replayed = existing, true
				return nil
			}
		}
		if err := lockAgent(ctx, tx, b.AgentID); err != nil {
			return err
		}
		n, err := countActive(ctx, tx, b, "")
		if err != nil {
			return err
		}
		if n >= capacity {
			return ErrCapacityExhausted
		}
		if err := insertBooking(ctx, tx, b); err != nil {
			return err
		}
		if idempotency != "" {
			if err := finalizeIdempotencyKey(ctx, tx, b.AgentID, idempotency, b.ID); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		if err := r.insertEvents(ctx, tx, events); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return model.Booking{}, false, err
	}
	return out, replayed, nil
}

func (r *BookingRepository) getForUpdate(ctx context.Context, tx pgx.Tx, agentID, id string) (model.Booking, error) {
	b, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND agent_id = $2
		FOR UPDATE
	`, id, agentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, err
}

func (r *BookingRepository) Update(ctx context.Context, agentID, id string, fn func(*model.Booking) ([]outbox.Event, error)) (model.Booking, error) {
	var out model.Booking
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		b, err := r.getForUpdate(ctx, tx, agentID, id)
		if err != nil {
			return err
		}
		events, err := fn(&b)
		if err != nil {
			return err
		}
		if err := updateBooking(ctx, tx, b); err != nil {
			return err
		}
		if err := r.insertEvents(ctx, tx, events); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (r *BookingRepository) Replace(ctx context.Context, agentID, oldID string, next model.Booking, capacity int, fn func(old, next *model.Booking) ([]outbox.Event, error)) (model.Booking, model.Booking, error) {
	var oldOut, nextOut model.Booking
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		old, err := r.getForUpdate(ctx, tx, agentID, oldID)
		if err != nil {
			return err
		}
		events, err := fn(&old, &next)
		if err != nil {
			return err
		}
		if err := lockAgent(ctx, tx, agentID); err != nil {
			return err
		}
		n, err := countActive(ctx, tx, next, oldID)
		if err != nil {
			return err
		}
		if n >= capacity {
			return ErrCapacityExhausted
		}
		if err := updateBooking(ctx, tx, old); err != nil {
			return err
		}
		if err := insertBooking(ctx, tx, next); err != nil {
			return err
		}
		if err := r.insertEvents(ctx, tx, events); err != nil {
			return err
		}
		oldOut, nextOut = old, next
		return nil
	})
	return oldOut, nextOut, err
}

// SettingsRepository stores one JSONB document per agent.
type SettingsRepository struct {
	pool *db.Pool
}

func NewSettingsRepository(pool *db.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func (r *SettingsRepository) Get(ctx context.Context, agentID string) (model.Settings, error) {
	var s model.Settings
	err := r.pool.QueryRow(ctx, `
		SELECT settings
		FROM agent_settings
		WHERE agent_id = $1
	`, agentID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Settings{}, fmt.Errorf("settings for %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return model.Settings{}, err
	}
	s.AgentID = agentID
	if s.Overrides == nil {
		s.Overrides = map[string]model.DateOverride{}
	}
	return s, nil
}

func (r *SettingsRepository) Put(ctx context.Context, s model.Settings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_settings (agent_id, settings, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE
		SET settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at
	`, s.AgentID, s, time.Now().UTC())
	return err
}
