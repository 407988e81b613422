// Package docassembler implements the Document Assembler: the component
// triggered exactly once per meeting that builds the transcript, summary,
// attendance, action-items, and any freeform custom documents and delivers
// them to the document sink, then publishes a "docs ready" signal.
package docassembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/resilience"
	"github.com/beatmeet/beat/pkg/docsink"
	"github.com/beatmeet/beat/pkg/provider/llm"
	"github.com/beatmeet/beat/pkg/types"
)

// DefaultCustomDocTimeout is the per-call timeout for a Custom document's LM
// call.
const DefaultCustomDocTimeout = 30 * time.Second

// Publisher delivers the "docs ready" signal to the room. Satisfied by
// [pkg/room.Connection].
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// docsReadySignal is the payload published on topic "agenda" once every
// document has been delivered.
type docsReadySignal struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// Assembler is the Document Assembler. A single instance is bound to one
// meeting's [agenda.Machine] and torn down with the session.
type Assembler struct {
	machine   *agenda.Machine
	sink      docsink.Sink
	publisher Publisher
	llm       llm.Provider
	breaker   *resilience.CircuitBreaker
	timeout   time.Duration
}

// New creates an Assembler. llmProvider may be nil if no Custom document
// requests are expected to be queued — Custom requests will then degrade to
// a short "could not be generated" body rather than panic.
func New(machine *agenda.Machine, sink docsink.Sink, publisher Publisher, llmProvider llm.Provider) *Assembler {
	return &Assembler{
		machine:   machine,
		sink:      sink,
		publisher: publisher,
		llm:       llmProvider,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "docassembler-custom-doc",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		}),
		timeout: DefaultCustomDocTimeout,
	}
}

// AssembleAndDeliver builds and uploads every applicable document for
// roomID, then publishes the docs-ready signal. AssembleAndDeliver itself
// does not check whether it already ran: a second call uploads every
// document again, and the sink's per-(roomID, filename) idempotency keeps
// the first stored version. Callers gate on
// [agenda.Machine.TryTriggerMeetingEnd] so that it runs once per meeting.
func (a *Assembler) AssembleAndDeliver(ctx context.Context, roomID string) error {
	items := a.machine.Items()
	participants := a.machine.Participants()
	requests := a.machine.DocumentRequests()

	if err := a.deliver(ctx, roomID, "transcript.md", "Meeting Transcript", a.buildTranscript(items)); err != nil {
		slog.Warn("docassembler: deliver transcript failed", "error", err)
	}

	if err := a.deliver(ctx, roomID, "summary.md", "Meeting Summary", a.buildSummary(items)); err != nil {
		slog.Warn("docassembler: deliver summary failed", "error", err)
	}

	wantAttendance := len(participants) > 0 || hasRequestType(requests, agenda.DocAttendance)
	if wantAttendance {
		if err := a.deliver(ctx, roomID, "attendance.md", "Attendance", a.buildAttendance(participants)); err != nil {
			slog.Warn("docassembler: deliver attendance failed", "error", err)
		}
	}

	if hasRequestType(requests, agenda.DocActionItems) {
		if err := a.deliver(ctx, roomID, "action-items.md", "Action Items", a.buildActionItems(items)); err != nil {
			slog.Warn("docassembler: deliver action items failed", "error", err)
		}
	}

	for _, req := range requests {
		if req.Type != agenda.DocCustom {
			continue
		}
		body := a.buildCustom(ctx, req, items)
		title := customTitle(req.Description)
		if err := a.deliver(ctx, roomID, req.Slug+".md", title, body); err != nil {
			slog.Warn("docassembler: deliver custom doc failed", "slug", req.Slug, "error", err)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, "agenda", docsReadySignal{Type: "docs_ready", RoomID: roomID}); err != nil {
			slog.Warn("docassembler: publish docs_ready failed", "error", err)
		}
	}

	return nil
}

func (a *Assembler) deliver(ctx context.Context, roomID, filename, title, body string) error {
	if err := a.sink.Upload(ctx, roomID, filename, title, body); err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	return nil
}

func hasRequestType(requests []agenda.DocumentRequest, t agenda.DocRequestType) bool {
	for _, r := range requests {
		if r.Type == t {
			return true
		}
	}
	return false
}

// buildTranscript renders the full meeting transcript, sectioned by agenda
// item, each entry formatted "[timestamp] speaker: text".
func (a *Assembler) buildTranscript(items []agenda.AgendaItem) string {
	var b strings.Builder
	b.WriteString("# Meeting Transcript\n\n")
	for _, item := range items {
		entries := a.machine.ItemTranscript(item.ID)
		fmt.Fprintf(&b, "## %s\n\n", item.Topic)
		if len(entries) == 0 {
			b.WriteString("_No discussion recorded for this item._\n\n")
			continue
		}
		for _, e := range entries {
			fmt.Fprintf(&b, "[%s] %s: %s\n", e.Timestamp.Format(time.RFC3339), e.SpeakerName, e.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// buildSummary renders, per completed item, its captured key points,
// decisions, and action items.
func (a *Assembler) buildSummary(items []agenda.AgendaItem) string {
	var b strings.Builder
	b.WriteString("# Meeting Summary\n\n")
	wrote := false
	for _, item := range items {
		if item.State != agenda.StateCompleted || item.Notes.IsEmpty() {
			continue
		}
		wrote = true
		fmt.Fprintf(&b, "## %s\n\n", item.Topic)
		writeBulletList(&b, "Key points", item.Notes.KeyPoints)
		writeBulletList(&b, "Decisions", item.Notes.Decisions)
		writeBulletList(&b, "Action items", item.Notes.ActionItems)
		b.WriteString("\n")
	}
	if !wrote {
		b.WriteString("_No items were completed with captured notes._\n")
	}
	return b.String()
}

// buildAttendance renders the participant roster: identity, first-seen,
// last-seen, and a total count.
func (a *Assembler) buildAttendance(participants []agenda.ParticipantInfo) string {
	var b strings.Builder
	b.WriteString("# Attendance\n\n")
	fmt.Fprintf(&b, "Total attendees: %d\n\n", len(participants))
	if len(participants) == 0 {
		b.WriteString("_No participants were recorded._\n")
		return b.String()
	}
	b.WriteString("| Identity | First Seen | Last Seen |\n")
	b.WriteString("|---|---|---|\n")
	for _, p := range participants {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", p.Identity, p.FirstSeen.Format(time.RFC3339), p.LastSeen.Format(time.RFC3339))
	}
	return b.String()
}

// buildActionItems renders the union of every item's action items, grouped
// by topic.
func (a *Assembler) buildActionItems(items []agenda.AgendaItem) string {
	var b strings.Builder
	b.WriteString("# Action Items\n\n")
	wrote := false
	for _, item := range items {
		if item.Notes.IsEmpty() || len(item.Notes.ActionItems) == 0 {
			continue
		}
		wrote = true
		fmt.Fprintf(&b, "## %s\n\n", item.Topic)
		for _, ai := range item.Notes.ActionItems {
			fmt.Fprintf(&b, "- %s\n", ai)
		}
		b.WriteString("\n")
	}
	if !wrote {
		b.WriteString("_No action items were captured._\n")
	}
	return b.String()
}

// buildCustom calls the large LM path with the full transcript and the
// request's freeform description, returning its output verbatim. A timeout,
// transport error, or open circuit degrades to a short apology body rather
// than failing the whole assembly run.
func (a *Assembler) buildCustom(ctx context.Context, req agenda.DocumentRequest, items []agenda.AgendaItem) string {
	if a.llm == nil {
		return "_This document could not be generated: no language model is configured._\n"
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	transcript := a.buildTranscript(items)

	var resp *llm.CompletionResponse
	err := a.breaker.Execute(func() error {
		r, e := a.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: "You produce a single markdown document body from a meeting transcript, per the user's request. Output only the document body, no commentary.",
			Messages: []types.Message{
				{Role: "user", Content: fmt.Sprintf("Request: %s\n\nTranscript:\n%s", req.Description, transcript)},
			},
			Temperature: 0.3,
			MaxTokens:   1500,
		})
		resp = r
		return e
	})
	if err != nil || resp == nil {
		slog.Warn("docassembler: custom document generation failed", "slug", req.Slug, "error", err)
		return "_This document could not be generated at this time._\n"
	}
	return resp.Content
}

func customTitle(description string) string {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return "Custom Document"
	}
	if len(trimmed) > 80 {
		trimmed = trimmed[:80]
	}
	return strings.ToUpper(trimmed[:1]) + trimmed[1:]
}

func writeBulletList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:**\n\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}
