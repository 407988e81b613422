// Package docstore provides a PostgreSQL-backed implementation of
// [docsink.Sink] for the Document Assembler. It enforces the
// (room_id, filename) idempotency contract the Document Assembler
// depends on at the storage layer, via a unique constraint and
// ON CONFLICT DO NOTHING, rather than relying solely on the in-memory
// dedup [internal/agenda.Machine] already performs.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beatmeet/beat/pkg/docsink"
)

// Store is a PostgreSQL-backed [docsink.Sink].
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ docsink.Sink = (*Store)(nil)

// New connects to the PostgreSQL database at dsn and ensures the
// meeting_documents table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Upload implements [docsink.Sink]. A duplicate (roomID, filename) pair is
// silently ignored — the first uploaded version of a document wins.
func (s *Store) Upload(ctx context.Context, roomID, filename, title, markdown string) error {
	const q = `
		INSERT INTO meeting_documents (room_id, filename, title, markdown)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id, filename) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, roomID, filename, title, markdown); err != nil {
		return fmt.Errorf("docstore: upload %s/%s: %w", roomID, filename, err)
	}
	return nil
}

// Get returns the stored markdown body for (roomID, filename), used by the
// external document-retrieval HTTP control plane (outside this module's
// scope; exposed here for that caller to wire up).
func (s *Store) Get(ctx context.Context, roomID, filename string) (title, markdown string, found bool, err error) {
	const q = `SELECT title, markdown FROM meeting_documents WHERE room_id = $1 AND filename = $2`
	row := s.pool.QueryRow(ctx, q, roomID, filename)
	if scanErr := row.Scan(&title, &markdown); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("docstore: get %s/%s: %w", roomID, filename, scanErr)
	}
	return title, markdown, true, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
