// Package gate implements the Speech Gate: a pure decision function mapping
// a candidate utterance, its trigger, and a meeting snapshot to a spoken-or-
// silent verdict. It has no fields, no methods, and performs no I/O — every
// rule is evaluated purely over its inputs, which is what makes it safe to
// property-test without mocking anything external.
package gate

import (
	"strings"
	"unicode"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/pkg/types"
)

// Trigger identifies why a candidate utterance exists. It determines which
// gate rules apply.
type Trigger int

const (
	Intro Trigger = iota
	TimeWarning
	Tangent
	Transition
	WrapUp
	DirectQuestion
	NamedAddress
)

// String returns the human-readable trigger name, used in gate log records.
func (t Trigger) String() string {
	switch t {
	case Intro:
		return "intro"
	case TimeWarning:
		return "time_warning"
	case Tangent:
		return "tangent"
	case Transition:
		return "transition"
	case WrapUp:
		return "wrap_up"
	case DirectQuestion:
		return "direct_question"
	case NamedAddress:
		return "named_address"
	default:
		return "unknown"
	}
}

// Action is the gate's verdict.
type Action int

const (
	Silent Action = iota
	Speak
)

func (a Action) String() string {
	if a == Speak {
		return "speak"
	}
	return "silent"
}

// overtimeSafetyMinutes is the meeting-overtime threshold at which a
// Transition candidate bypasses the silence window, so the agenda never
// freezes indefinitely behind a "please be quiet".
const overtimeSafetyMinutes = 5.0

// redundancyThreshold is the fraction of the candidate's word set that must
// already appear in the recent transcript for the candidate to be
// considered redundant.
const redundancyThreshold = 0.85

// Candidate is a proposed spoken utterance awaiting a gate verdict.
type Candidate struct {
	Text    string
	Trigger Trigger
}

// Result is the gate's verdict, always produced with no side effects.
type Result struct {
	Action     Action
	Text       string
	Reason     string
	Confidence float64
	Trigger    Trigger
}

// Evaluate is the single chokepoint deciding whether a candidate utterance
// is spoken. It is a pure function of its three inputs: rules are checked
// in a fixed order and the first matching rule decides the outcome.
func Evaluate(candidate Candidate, ctx agenda.MeetingContext) Result {
	trig := candidate.Trigger

	// Rule 1: empty candidate.
	if strings.TrimSpace(candidate.Text) == "" {
		return silent(trig, "empty", 1.0)
	}

	// Rule 2: chatting mode bypass.
	if ctx.Style == config.StyleChatting {
		if trig == Intro || trig == DirectQuestion || trig == NamedAddress {
			return speak(candidate, trig, 1.0, "chatting mode allowed trigger")
		}
		return silent(trig, "chatting mode", 1.0)
	}

	// Rule 3: silence window.
	if ctx.SilenceActive {
		overtimeSafety := trig == Transition && ctx.MeetingOvertimeMinutes >= overtimeSafetyMinutes
		exempt := trig == Transition || trig == WrapUp || trig == NamedAddress
		if !exempt && !overtimeSafety {
			return silent(trig, "silence", 1.0)
		}
	}

	// Rule 4: redundancy.
	if isRedundant(candidate.Text, ctx.RecentTranscript) {
		return silent(trig, "redundancy", 1.0)
	}

	// Rule 5: trigger-specific rules.
	switch trig {
	case Intro, WrapUp, NamedAddress, DirectQuestion:
		return speak(candidate, trig, 1.0, "always-on trigger")

	case TimeWarning:
		if ctx.OverrideActive {
			return silent(trig, "override active", 1.0)
		}
		confidence := elapsedRatio(ctx)
		return speak(candidate, trig, confidence, "time warning due")

	case Transition:
		if ctx.MeetingOvertimeMinutes >= overtimeSafetyMinutes {
			return speak(candidate, trig, 1.0, "overtime safety override")
		}
		if ctx.OverrideActive {
			return silent(trig, "override active", 1.0)
		}
		return speak(candidate, trig, 1.0, "item transition")

	case Tangent:
		if ctx.OverrideActive {
			return silent(trig, "override active", 1.0)
		}
		threshold := tangentThreshold(ctx.Style)
		if threshold < 0 || ctx.TangentConfidence < threshold {
			return silent(trig, "below tangent threshold", ctx.TangentConfidence)
		}
		return speak(candidate, trig, ctx.TangentConfidence, "tangent confidence met")
	}

	// Rule 6: default.
	return silent(trig, "no matching rule", 0.0)
}

func silent(trig Trigger, reason string, confidence float64) Result {
	return Result{Action: Silent, Reason: reason, Confidence: confidence, Trigger: trig}
}

func speak(candidate Candidate, trig Trigger, confidence float64, reason string) Result {
	return Result{Action: Speak, Text: candidate.Text, Reason: reason, Confidence: confidence, Trigger: trig}
}

func tangentThreshold(style config.Style) float64 {
	switch style {
	case config.StyleGentle:
		return 0.80
	case config.StyleModerate:
		return 0.70
	default:
		return -1
	}
}

func elapsedRatio(ctx agenda.MeetingContext) float64 {
	if ctx.AllocatedMinutes <= 0 {
		return 0
	}
	ratio := ctx.ElapsedMinutes / ctx.AllocatedMinutes
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// isRedundant reports whether at least redundancyThreshold of candidate's
// distinct lowercased word set also appears among the words spoken in
// recent transcript entries.
func isRedundant(candidate string, recent []types.TranscriptEntry) bool {
	candidateWords := wordSet(candidate)
	if len(candidateWords) == 0 {
		return false
	}

	recentWords := make(map[string]struct{})
	for _, e := range recent {
		for w := range wordSet(e.Text) {
			recentWords[w] = struct{}{}
		}
	}

	matched := 0
	for w := range candidateWords {
		if _, ok := recentWords[w]; ok {
			matched++
		}
	}

	ratio := float64(matched) / float64(len(candidateWords))
	return ratio >= redundancyThreshold
}

// wordSet splits text into a set of lowercased alphanumeric words, stripping
// punctuation so "roadmap" and "roadmap." are treated as the same word.
func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
