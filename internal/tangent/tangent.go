// Package tangent implements the Tangent Assessor: a fast-LM classifier
// that judges the recent transcript against the current topic and proposes
// a redirect utterance when appropriate. It offers the model a single tool
// whose JSON-Schema parameters describe the shape of the response, and the
// system prompt asks the model to call it. The request does not force the
// call (llm.CompletionRequest has no tool-choice setting); a reply without
// a tool call degrades to the no-op assessment.
package tangent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beatmeet/beat/internal/resilience"
	"github.com/beatmeet/beat/pkg/provider/llm"
	"github.com/beatmeet/beat/pkg/types"
)

// DefaultTimeout is the per-call timeout for the Tangent Assessor's LM call.
const DefaultTimeout = 5 * time.Second

// Classification enumerates the conversation states the LM may report.
type Classification string

const (
	OnTrack              Classification = "on_track"
	Drifting             Classification = "drifting"
	OffTopic             Classification = "off_topic"
	TimeExceeded         Classification = "time_exceeded"
	ProductiveDiscussion Classification = "productive_discussion"
)

// Assessment is the Tangent Assessor's output. A malformed or timed-out LM
// response degrades to the documented no-op value: {OnTrack, 0.0, ""}.
type Assessment struct {
	Classification    Classification
	Confidence        float64
	RedirectUtterance string
}

// noop is the documented degraded value for any failure mode.
var noop = Assessment{Classification: OnTrack, Confidence: 0.0, RedirectUtterance: ""}

const toolName = "assess_tangent"

var toolDefinition = types.ToolDefinition{
	Name:        toolName,
	Description: "Classify whether the recent conversation is on track with the current agenda topic, and propose a short spoken redirect if it has drifted.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"classification": map[string]any{
				"type": "string",
				"enum": []string{"on_track", "drifting", "off_topic", "time_exceeded", "productive_discussion"},
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"redirect_utterance": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"classification", "confidence"},
	},
	EstimatedDurationMs: 800,
	MaxDurationMs:       int(DefaultTimeout / time.Millisecond),
	Idempotent:          true,
}

// toolArgs mirrors toolDefinition.Parameters for JSON decoding.
type toolArgs struct {
	Classification     string  `json:"classification"`
	Confidence         float64 `json:"confidence"`
	RedirectUtterance  string  `json:"redirect_utterance"`
}

// Input carries everything the Assessor needs to build its prompt.
type Input struct {
	Topic            string
	AllocatedMinutes float64
	ElapsedMinutes   float64
	Style            string
	RecentTranscript []types.TranscriptEntry
}

// Assessor calls a fast LM at most once per invocation, wrapped by a circuit
// breaker so repeated failures degrade the breaker rather than retrying
// indefinitely.
type Assessor struct {
	provider llm.Provider
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
}

// New creates an Assessor backed by provider (expected to be a fast/cheap
// model deployment distinct from the general LM path).
func New(provider llm.Provider) *Assessor {
	return &Assessor{
		provider: provider,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "tangent-assessor",
			MaxFailures: 3,
			ResetTimeout: 30 * time.Second,
		}),
		timeout: DefaultTimeout,
	}
}

// Assess builds the prompt from in, offers the single assess_tangent tool,
// and decodes the arguments of the first tool call in the reply. Any LM timeout, transport error, or
// malformed output degrades to the documented no-op value — this method
// never returns an error.
func (a *Assessor) Assess(ctx context.Context, in Input) Assessment {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var resp *llm.CompletionResponse
	err := a.breaker.Execute(func() error {
		r, e := a.provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: systemPrompt(in),
			Messages:     []types.Message{{Role: "user", Content: transcriptText(in.RecentTranscript)}},
			Tools:        []types.ToolDefinition{toolDefinition},
			Temperature:  0,
			MaxTokens:    200,
		})
		resp = r
		return e
	})
	if err != nil {
		return noop
	}
	return decodeAssessment(resp)
}

func decodeAssessment(resp *llm.CompletionResponse) Assessment {
	if resp == nil || len(resp.ToolCalls) == 0 {
		return noop
	}

	var args toolArgs
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &args); err != nil {
		return noop
	}

	class := Classification(args.Classification)
	switch class {
	case OnTrack, Drifting, OffTopic, TimeExceeded, ProductiveDiscussion:
	default:
		return noop
	}

	if args.Confidence < 0 || args.Confidence > 1 {
		return noop
	}

	return Assessment{
		Classification:    class,
		Confidence:        args.Confidence,
		RedirectUtterance: args.RedirectUtterance,
	}
}

func systemPrompt(in Input) string {
	return fmt.Sprintf(
		"You are monitoring a live meeting. The current agenda topic is %q, allocated %.1f minutes, %.1f minutes elapsed. Facilitation style: %s. Call %s with your assessment of the recent conversation below.",
		in.Topic, in.AllocatedMinutes, in.ElapsedMinutes, in.Style, toolName,
	)
}

func transcriptText(entries []types.TranscriptEntry) string {
	text := ""
	for _, e := range entries {
		text += e.SpeakerName + ": " + e.Text + "\n"
	}
	return text
}
