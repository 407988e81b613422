package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/internal/router"
)

func TestClassify_SilenceRequestAlwaysChecked(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("please be quiet", config.StyleModerate)
	assert.Equal(t, router.KindSilenceRequest, c.Kind)

	c = r.Classify("please be quiet", config.StyleChatting)
	assert.Equal(t, router.KindSilenceRequest, c.Kind)
}

func TestClassify_NonChattingRequiresNamedAddress(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("how much time is left", config.StyleModerate)
	assert.Equal(t, router.KindGeneral, c.Kind, "unaddressed utterances fall through without named address")

	c = r.Classify("Beat, how much time is left?", config.StyleModerate)
	assert.Equal(t, router.KindTimeQuery, c.Kind)
}

// TestScenario5_DeterministicTimeQuery checks that a direct time query is
// classified deterministically without ever reaching the LM.
func TestScenario5_DeterministicTimeQuery(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("Beat, how much time is left?", config.StyleModerate)
	assert.Equal(t, router.KindTimeQuery, c.Kind)
	assert.True(t, c.NamedAddressed)
}

func TestClassify_AtMention(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("@beat what did we decide?", config.StyleChatting)
	assert.True(t, c.NamedAddressed)
}

// TestScenario6_ChattingModeBypassesEverythingButSilence checks that chatting style still routes
// general utterances to the LM path rather than suppressing them.
func TestScenario6_ChattingModeBypassesEverythingButSilence(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("let's talk about something off-topic", config.StyleChatting)
	assert.Equal(t, router.KindGeneral, c.Kind)

	c = r.Classify("@Beat what did we decide?", config.StyleChatting)
	assert.Equal(t, router.KindGeneral, c.Kind)
	assert.True(t, c.NamedAddressed)
}

func TestClassify_Skip(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("Beat, let's skip this and move on", config.StyleModerate)
	assert.Equal(t, router.KindSkip, c.Kind)
}

func TestClassify_End(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("Beat, let's end the meeting", config.StyleModerate)
	assert.Equal(t, router.KindEnd, c.Kind)
}

func TestClassify_Override(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("Beat, keep going please", config.StyleModerate)
	assert.Equal(t, router.KindOverride, c.Kind)
}

func TestClassify_DocumentRequest(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("Beat, can you note down the attendance for this call?", config.StyleModerate)
	assert.Equal(t, router.KindDocumentRequest, c.Kind)
	assert.Equal(t, "attendance", c.DocRequest.Slug)
}

func TestClassify_DocumentRequestCustomFallsThrough(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("Beat, keep a record of our decision on pricing", config.StyleModerate)
	assert.Equal(t, router.KindDocumentRequest, c.Kind)
	assert.Equal(t, "custom", c.DocRequest.Type.String())
}

func TestClassify_FallsThroughToGeneral(t *testing.T) {
	r := router.New("Beat")
	c := r.Classify("Beat, what do you think about this approach?", config.StyleModerate)
	assert.Equal(t, router.KindNamedAddress, c.Kind)
}
