package docstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS meeting_documents (
    id         BIGSERIAL    PRIMARY KEY,
    room_id    TEXT         NOT NULL,
    filename   TEXT         NOT NULL,
    title      TEXT         NOT NULL DEFAULT '',
    markdown   TEXT         NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (room_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_meeting_documents_room_id
    ON meeting_documents (room_id);
`

// Migrate creates the meeting_documents table and its unique constraint if
// they do not already exist. The UNIQUE (room_id, filename) constraint is
// what turns the application-level dedup in [internal/agenda.Machine] into a
// storage-level guarantee: a racing duplicate INSERT is rejected by
// Postgres, not just by in-memory bookkeeping.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDocuments); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}
