// Package facilmem assembles the facilitator's "meeting memory": a compact,
// ever-growing digest of completed agenda items that is injected into the
// General LM path's system prompt so later discussion can reference earlier
// decisions without replaying the full transcript. The shape mirrors the
// accumulated-summary fragment a long-running conversation context manager
// keeps for the same reason — recent detail lives in the raw transcript
// window, older detail lives here as prose.
package facilmem

import (
	"fmt"
	"strings"
	"sync"

	"github.com/beatmeet/beat/internal/agenda"
)

// Memory accumulates per-item notes as agenda items complete. All methods
// are safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	order []int
	notes map[int]entry
}

type entry struct {
	topic string
	notes agenda.ItemNotes
}

// New creates an empty Memory.
func New() *Memory {
	return &Memory{notes: make(map[int]entry)}
}

// Record attaches notes for a completed item identified by itemID. Calling
// Record again for the same itemID replaces its entry in place rather than
// duplicating it, so a retried summarisation job is idempotent.
func (m *Memory) Record(itemID int, topic string, notes agenda.ItemNotes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.notes[itemID]; !exists {
		m.order = append(m.order, itemID)
	}
	m.notes[itemID] = entry{topic: topic, notes: notes}
}

// Fragment renders the accumulated notes as a system-prompt fragment. Items
// with no substantive notes are omitted. Returns "" if nothing has been
// recorded yet.
func (m *Memory) Fragment() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	wrote := false
	for _, id := range m.order {
		e := m.notes[id]
		if e.notes.IsEmpty() {
			continue
		}
		if !wrote {
			b.WriteString("Meeting notes so far:\n")
			wrote = true
		}
		fmt.Fprintf(&b, "- %s:", e.topic)
		if len(e.notes.KeyPoints) > 0 {
			fmt.Fprintf(&b, " key points: %s;", strings.Join(e.notes.KeyPoints, "; "))
		}
		if len(e.notes.Decisions) > 0 {
			fmt.Fprintf(&b, " decisions: %s;", strings.Join(e.notes.Decisions, "; "))
		}
		if len(e.notes.ActionItems) > 0 {
			fmt.Fprintf(&b, " action items: %s;", strings.Join(e.notes.ActionItems, "; "))
		}
		b.WriteString("\n")
	}
	if !wrote {
		return ""
	}
	return b.String()
}

// Snapshot returns the same digest as Fragment, for embedding in the
// published agenda-state payload's meeting_notes field.
func (m *Memory) Snapshot() string {
	return m.Fragment()
}
