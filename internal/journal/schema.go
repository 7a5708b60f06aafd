package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the table written by the journal.
const Schema = `
CREATE TABLE IF NOT EXISTS connection_events (
	id          BIGSERIAL PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	kind        TEXT        NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	close_code  INTEGER,
	reason      TEXT,
	attempts    INTEGER     NOT NULL DEFAULT 0,
	downtime_ms BIGINT      NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS connection_events_occurred_at_idx ON connection_events (occurred_at);
`

// Execer is satisfied by *pgxpool.Pool and pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate creates the journal table if it does not exist.
func Migrate(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create connection_events: %w", err)
	}
	return nil
}
