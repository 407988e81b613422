// Package coordinator implements the Intervention Coordinator: the single
// chokepoint through which any candidate utterance reaches the TTS sink.
// Every candidate is built into a [agenda.MeetingContext], evaluated by the
// Speech Gate, and — on Speak — dispatched and recorded; on Silent, only
// logged. No other component calls the TTS sink directly.
package coordinator

import (
	"context"
	"log/slog"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/gate"
)

// Speaker is the narrow TTS sink contract the Coordinator depends on:
// speak the text, optionally permitting the caller to interrupt playback.
// Errors are non-fatal: the caller logs and continues.
type Speaker interface {
	Speak(ctx context.Context, text string, allowInterrupt bool) error
}

// ChatPublisher is the narrow contract for publishing a chat-channel reply
// instead of speaking it, used for chat-originated named-address mentions.
type ChatPublisher interface {
	PublishChatReply(ctx context.Context, text string) error
}

// Coordinator is the Intervention Coordinator.
type Coordinator struct {
	machine *agenda.Machine
	speaker Speaker
	chat    ChatPublisher
}

// New creates a Coordinator bound to machine (the single source of
// MeetingContext snapshots and intervention bookkeeping) and speaker (the
// TTS sink).
func New(machine *agenda.Machine, speaker Speaker, chat ChatPublisher) *Coordinator {
	return &Coordinator{machine: machine, speaker: speaker, chat: chat}
}

// Dispatch builds a MeetingContext, evaluates the Speech Gate, and on Speak
// calls the TTS sink (recording the intervention timestamp on success). On
// Silent it only logs. tangentConfidence is forwarded into the context
// snapshot; pass 0 for non-Tangent triggers.
func (c *Coordinator) Dispatch(ctx context.Context, candidate gate.Candidate, tangentConfidence float64) gate.Result {
	meetingCtx := c.machine.BuildContext(tangentConfidence)
	result := gate.Evaluate(candidate, meetingCtx)

	slog.Info("coordinator: gate decision",
		"trigger", result.Trigger.String(),
		"action", result.Action.String(),
		"reason", result.Reason,
		"confidence", result.Confidence,
	)

	if result.Action != gate.Speak {
		return result
	}

	if err := c.speaker.Speak(ctx, result.Text, true); err != nil {
		slog.Warn("coordinator: tts dispatch failed",
			"trigger", result.Trigger.String(),
			"error", err,
		)
		return result
	}

	if err := c.machine.RecordIntervention(); err != nil {
		slog.Warn("coordinator: record intervention failed", "error", err)
	}

	return result
}

// DispatchToChat evaluates the gate exactly as Dispatch does, but on Speak
// publishes the reply to the chat channel instead of calling TTS. Used for
// chat-originated named-address mentions, which are replied to in-channel
// rather than spoken.
func (c *Coordinator) DispatchToChat(ctx context.Context, candidate gate.Candidate) gate.Result {
	meetingCtx := c.machine.BuildContext(0)
	result := gate.Evaluate(candidate, meetingCtx)

	slog.Info("coordinator: gate decision (chat)",
		"trigger", result.Trigger.String(),
		"action", result.Action.String(),
		"reason", result.Reason,
	)

	if result.Action != gate.Speak {
		return result
	}

	if err := c.chat.PublishChatReply(ctx, result.Text); err != nil {
		slog.Warn("coordinator: chat publish failed", "error", err)
		return result
	}

	if err := c.machine.RecordIntervention(); err != nil {
		slog.Warn("coordinator: record intervention failed", "error", err)
	}

	return result
}
