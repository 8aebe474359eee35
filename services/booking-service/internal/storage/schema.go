package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/md-rashed-zaman/agentbook/libs/db"
)

//go:embed schema.sql
var schema string

// Migrate creates the bookings, agent_settings and outbox_events tables when missing.
func Migrate(ctx context.Context, pool *db.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
