// Package archive persists chat events and job outcomes to PostgreSQL for
// after-stream review. Writes are asynchronous and fire-and-forget: a full
// buffer drops records rather than stalling ingest or dispatch.
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChatEvents = `
CREATE TABLE IF NOT EXISTS chat_events (
    id        BIGSERIAL    PRIMARY KEY,
    platform  TEXT         NOT NULL DEFAULT '',
    sender_id TEXT         NOT NULL DEFAULT '',
    text      TEXT         NOT NULL,
    keyword   TEXT         NOT NULL DEFAULT '',
    at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_events_at ON chat_events (at);

CREATE INDEX IF NOT EXISTS idx_chat_events_keyword
    ON chat_events (keyword) WHERE keyword <> '';
`

const ddlJobEvents = `
CREATE TABLE IF NOT EXISTS job_events (
    id              BIGSERIAL    PRIMARY KEY,
    job_id          UUID         NOT NULL,
    kind            TEXT         NOT NULL,
    state           TEXT         NOT NULL,
    reason          TEXT         NOT NULL DEFAULT '',
    mode            TEXT         NOT NULL,
    stop_latency_ns BIGINT       NOT NULL DEFAULT 0,
    at              TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_events_at ON job_events (at);
CREATE INDEX IF NOT EXISTS idx_job_events_job_id ON job_events (job_id);
`

// Migrate ensures the archive tables exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlChatEvents, ddlJobEvents} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("archive migrate: %w", err)
		}
	}
	return nil
}
