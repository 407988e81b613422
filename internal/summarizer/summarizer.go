// Package summarizer implements the Item Summariser: a fast-LM call that
// condenses a completed agenda item's transcript into structured notes. Like
// the Tangent Assessor it offers the model a single tool whose JSON-Schema
// parameters describe the shape of the response. The request does not force
// the call; a reply without a tool call yields empty notes.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/resilience"
	"github.com/beatmeet/beat/pkg/provider/llm"
	"github.com/beatmeet/beat/pkg/types"
)

// DefaultTimeout is the per-call timeout for the Item Summariser's LM call.
// There is no retry: a timeout or malformed response degrades to empty notes.
const DefaultTimeout = 15 * time.Second

const toolName = "capture_item_notes"

var toolDefinition = types.ToolDefinition{
	Name:        toolName,
	Description: "Capture the key points, decisions, and action items discussed during an agenda item.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key_points": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"decisions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"action_items": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"key_points", "decisions", "action_items"},
	},
	EstimatedDurationMs: 2000,
	MaxDurationMs:       int(DefaultTimeout / time.Millisecond),
	Idempotent:          true,
}

type toolArgs struct {
	KeyPoints   []string `json:"key_points"`
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
}

// Summarizer calls a fast LM at most once per item, wrapped by a circuit
// breaker so repeated failures degrade the breaker rather than retrying.
type Summarizer struct {
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
}

// New creates a Summarizer backed by provider.
func New(provider llm.Provider) *Summarizer {
	return &Summarizer{
		provider: provider,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "item-summarizer",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		}),
		timeout: DefaultTimeout,
	}
}

// Summarize condenses topic's transcript into structured notes. Any LM
// timeout, transport error, or malformed output degrades to empty notes —
// this method never returns an error and is never retried.
func (s *Summarizer) Summarize(ctx context.Context, topic string, transcript []types.TranscriptEntry) agenda.ItemNotes {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var resp *llm.CompletionResponse
	err := s.breaker.Execute(func() error {
		r, e := s.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt(topic),
			Messages:     []types.Message{{Role: "user", Content: transcriptText(transcript)}},
			Tools:        []types.ToolDefinition{toolDefinition},
			Temperature:  0,
			MaxTokens:    500,
		})
		resp = r
		return e
	})
	if err != nil {
		return agenda.ItemNotes{}
	}
	return decodeNotes(resp)
}

func decodeNotes(resp *llm.CompletionResponse) agenda.ItemNotes {
	if resp == nil || len(resp.ToolCalls) == 0 {
		return agenda.ItemNotes{}
	}

	var args toolArgs
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &args); err != nil {
		return agenda.ItemNotes{}
	}

	return agenda.ItemNotes{
		KeyPoints:   args.KeyPoints,
		Decisions:   args.Decisions,
		ActionItems: args.ActionItems,
	}
}

func systemPrompt(topic string) string {
	return fmt.Sprintf(
		"The agenda item %q has just concluded. Call %s with the key points, decisions, and action items from the discussion below. If nothing substantive was discussed, call it with empty arrays.",
		topic, toolName,
	)
}

func transcriptText(entries []types.TranscriptEntry) string {
	text := ""
	for _, e := range entries {
		text += e.SpeakerName + ": " + e.Text + "\n"
	}
	return text
}
