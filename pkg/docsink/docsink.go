// Package docsink defines the Sink interface the Document Assembler uses to
// deliver finished meeting documents, keeping the assembler itself ignorant
// of where documents end up (in-memory for tests, durable storage in
// production via [internal/docstore]).
package docsink

import "context"

// Sink delivers a single rendered document. Implementations must make
// Upload idempotent per (roomID, filename): a duplicate upload for the same
// pair is a no-op that returns nil, giving the Document Assembler's "at
// most once per slug" guarantee a storage-level backstop in addition to the
// in-memory dedup [internal/agenda.Machine] already performs.
type Sink interface {
	// Upload stores markdown under filename for roomID, with title as the
	// document's display title. Returns an error only on a genuine storage
	// failure — a repeat upload of an already-stored (roomID, filename)
	// pair must return nil without overwriting the existing document.
	Upload(ctx context.Context, roomID, filename, title, markdown string) error
}
