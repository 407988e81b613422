package docassembler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/internal/docassembler"
	"github.com/beatmeet/beat/pkg/docsink/mock"
	"github.com/beatmeet/beat/pkg/provider/llm"
	llmmock "github.com/beatmeet/beat/pkg/provider/llm/mock"
	"github.com/beatmeet/beat/pkg/types"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakePublisher struct {
	topic   string
	payload any
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) error {
	f.topic = topic
	f.payload = payload
	return f.err
}

func newMachine(t *testing.T) *agenda.Machine {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	cfg := config.FacilitationConfig{Style: config.StyleModerate, TranscriptWindowSeconds: 3600}
	m := agenda.New(clock, cfg, "Weekly Sync", []agenda.ItemSpec{
		{Topic: "Roadmap", Allocated: time.Hour},
		{Topic: "Retro", Allocated: time.Hour},
	})
	require.NoError(t, m.StartMeeting())
	return m
}

func TestAssembleAndDeliver_AlwaysOnDocuments(t *testing.T) {
	m := newMachine(t)
	m.AppendTranscript(types.TranscriptEntry{SpeakerID: "u1", SpeakerName: "Ada", Text: "Let's ship v2.", Timestamp: time.Now()})
	m.AttachNotes(0, agenda.ItemNotes{KeyPoints: []string{"shipped v2"}, Decisions: []string{"go with v2"}})
	_, _ = m.AdvanceToNext()

	sink := mock.New()
	pub := &fakePublisher{}
	a := docassembler.New(m, sink, pub, nil)

	err := a.AssembleAndDeliver(context.Background(), "room-1")
	require.NoError(t, err)

	transcriptDoc, ok := sink.Get("room-1", "transcript.md")
	require.True(t, ok)
	assert.Contains(t, transcriptDoc.Markdown, "Roadmap")
	assert.Contains(t, transcriptDoc.Markdown, "Ada: Let's ship v2.")

	summaryDoc, ok := sink.Get("room-1", "summary.md")
	require.True(t, ok)
	assert.Contains(t, summaryDoc.Markdown, "shipped v2")
	assert.Contains(t, summaryDoc.Markdown, "go with v2")

	attendanceDoc, ok := sink.Get("room-1", "attendance.md")
	require.True(t, ok)
	assert.Contains(t, attendanceDoc.Markdown, "Total attendees: 1")

	_, ok = sink.Get("room-1", "action-items.md")
	assert.False(t, ok, "action items document is only produced on request")

	assert.Equal(t, "agenda", pub.topic)
}

func TestAssembleAndDeliver_ActionItemsOnRequest(t *testing.T) {
	m := newMachine(t)
	m.AttachNotes(0, agenda.ItemNotes{ActionItems: []string{"file the ticket"}})
	m.QueueDocumentRequest(agenda.DocumentRequest{Type: agenda.DocActionItems, Slug: "action-items"})

	sink := mock.New()
	a := docassembler.New(m, sink, nil, nil)

	require.NoError(t, a.AssembleAndDeliver(context.Background(), "room-1"))

	doc, ok := sink.Get("room-1", "action-items.md")
	require.True(t, ok)
	assert.Contains(t, doc.Markdown, "file the ticket")
}

func TestAssembleAndDeliver_CustomDocumentUsesLLM(t *testing.T) {
	m := newMachine(t)
	m.QueueDocumentRequest(agenda.DocumentRequest{
		Type:        agenda.DocCustom,
		Description: "a risk register",
		Slug:        "risk-register",
	})

	sink := mock.New()
	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "# Risks\n\n- none"}}
	a := docassembler.New(m, sink, nil, provider)

	require.NoError(t, a.AssembleAndDeliver(context.Background(), "room-1"))

	doc, ok := sink.Get("room-1", "risk-register.md")
	require.True(t, ok)
	assert.Equal(t, "# Risks\n\n- none", doc.Markdown)
}

func TestAssembleAndDeliver_CustomDocumentDegradesWithoutLLM(t *testing.T) {
	m := newMachine(t)
	m.QueueDocumentRequest(agenda.DocumentRequest{Type: agenda.DocCustom, Description: "budget", Slug: "budget"})

	sink := mock.New()
	a := docassembler.New(m, sink, nil, nil)

	require.NoError(t, a.AssembleAndDeliver(context.Background(), "room-1"))

	doc, ok := sink.Get("room-1", "budget.md")
	require.True(t, ok)
	assert.Contains(t, doc.Markdown, "could not be generated")
}

func TestAssembleAndDeliver_IsIdempotentPerDocument(t *testing.T) {
	m := newMachine(t)
	sink := mock.New()
	a := docassembler.New(m, sink, nil, nil)

	require.NoError(t, a.AssembleAndDeliver(context.Background(), "room-1"))
	before, _ := sink.Get("room-1", "transcript.md")

	m.AppendTranscript(types.TranscriptEntry{SpeakerID: "u2", SpeakerName: "Bo", Text: "late addition", Timestamp: time.Now()})
	require.NoError(t, a.AssembleAndDeliver(context.Background(), "room-1"))
	after, _ := sink.Get("room-1", "transcript.md")

	assert.Equal(t, before.Markdown, after.Markdown, "a repeat delivery must not overwrite the first stored document")
}
