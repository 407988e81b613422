// Package mock provides an in-memory [docsink.Sink] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/beatmeet/beat/pkg/docsink"
)

// Document is a single recorded upload.
type Document struct {
	RoomID   string
	Filename string
	Title    string
	Markdown string
}

// Sink is an in-memory [docsink.Sink] that records every delivered document
// and enforces the same (roomID, filename) idempotency contract the
// production Postgres-backed store does.
type Sink struct {
	mu        sync.Mutex
	documents map[string]Document

	// UploadErr, if non-nil, is returned by Upload instead of storing.
	UploadErr error
}

var _ docsink.Sink = (*Sink)(nil)

// New creates an empty Sink.
func New() *Sink {
	return &Sink{documents: make(map[string]Document)}
}

// Upload implements [docsink.Sink].
func (s *Sink) Upload(_ context.Context, roomID, filename, title, markdown string) error {
	if s.UploadErr != nil {
		return s.UploadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomID + "/" + filename
	if _, exists := s.documents[key]; exists {
		return nil
	}
	s.documents[key] = Document{RoomID: roomID, Filename: filename, Title: title, Markdown: markdown}
	return nil
}

// Documents returns a copy of every stored document, in no particular order.
func (s *Sink) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d)
	}
	return out
}

// Get returns the document stored under (roomID, filename), if any.
func (s *Sink) Get(roomID, filename string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[roomID+"/"+filename]
	return d, ok
}
