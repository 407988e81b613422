package agenda

import (
	"time"

	"github.com/beatmeet/beat/internal/config"
)

// styleProfile carries the style-specific numbers the Design Notes call for:
// tangent threshold, tangent tolerance, and a prompt tone fragment per style,
// replacing the source's stringly-typed style flags with a small lookup
// table keyed on [config.Style].
type styleProfile struct {
	// TangentThreshold is the minimum Tangent Assessor confidence that gates
	// in a redirect intervention. Negative means "not applicable" (chatting
	// bypasses tangent interventions entirely).
	TangentThreshold float64

	// TangentTolerance is the minimum gap since the last intervention before
	// a tangent check may fire.
	TangentTolerance time.Duration

	// ToneFragment is injected into the facilitator's system prompt to set
	// the intervention posture for the general LM path.
	ToneFragment string
}

// styleProfiles is the single extension point for adding a style: one row
// per style. The source's stale "aggressive" style (10s tolerance) is
// omitted per spec — reintroducing it means adding one row here with its
// own threshold and tolerance.
var styleProfiles = map[config.Style]styleProfile{
	config.StyleGentle: {
		TangentThreshold: 0.80,
		TangentTolerance: 120 * time.Second,
		ToneFragment:     "Speak rarely. Give the room wide latitude before redirecting a tangent, and prefer silence when in doubt.",
	},
	config.StyleModerate: {
		TangentThreshold: 0.70,
		TangentTolerance: 60 * time.Second,
		ToneFragment:     "Balance keeping the agenda on track with letting natural discussion breathe.",
	},
	config.StyleChatting: {
		TangentThreshold: -1,
		TangentTolerance: 0,
		ToneFragment:     "Stay conversational and out of the way. Only speak when addressed directly or asked a direct question.",
	},
}

// profileFor returns the styleProfile for s, falling back to moderate for an
// unrecognised value so a malformed config can never wedge the engine.
func profileFor(s config.Style) styleProfile {
	if p, ok := styleProfiles[s]; ok {
		return p
	}
	return styleProfiles[config.StyleModerate]
}

// ToneFragment returns the prompt tone fragment for style s.
func ToneFragment(s config.Style) string {
	return profileFor(s).ToneFragment
}
