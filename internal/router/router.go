// Package router implements the Command Router: a deterministic utterance
// classifier consulted before any LM call, returning a tagged
// [Classification] so downstream components never need their own regex
// dispatch. Phrase lists are package-level tables and the named-address
// regex is compiled once at construction rather than per call.
package router

import (
	"regexp"
	"strings"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/config"
)

// Kind enumerates the fixed set of intents the router recognises.
type Kind int

const (
	// KindGeneral falls through to the LM node; no deterministic intent matched.
	KindGeneral Kind = iota
	KindSilenceRequest
	KindNamedAddress
	KindTimeQuery
	KindSkip
	KindEnd
	KindOverride
	KindDocumentRequest
)

// String returns the human-readable name of the classification kind.
func (k Kind) String() string {
	switch k {
	case KindSilenceRequest:
		return "silence_request"
	case KindNamedAddress:
		return "named_address"
	case KindTimeQuery:
		return "time_query"
	case KindSkip:
		return "skip"
	case KindEnd:
		return "end"
	case KindOverride:
		return "override"
	case KindDocumentRequest:
		return "document_request"
	default:
		return "general"
	}
}

// Classification is the tagged variant returned for every routed utterance.
type Classification struct {
	Kind Kind

	// NamedAddressed is true when the utterance also matched the named
	// address pattern, independent of which Kind ultimately matched (the
	// Intervention Coordinator uses this to decide TTS vs. no engagement
	// gating).
	NamedAddressed bool

	// DocRequest is populated when Kind is KindDocumentRequest.
	DocRequest agenda.DocumentRequest

	// Text is the utterance with any leading name-address stripped, handed
	// to the LM node for KindGeneral.
	Text string
}

// Router is a deterministic utterance classifier. The zero value is not
// usable; construct with [New].
type Router struct {
	botName    string
	namedRe    *regexp.Regexp
	silenceRe  []*regexp.Regexp
	timeRe     []*regexp.Regexp
	skipRe     []*regexp.Regexp
	endRe      []*regexp.Regexp
	overrideRe []*regexp.Regexp
	docRe      []docPattern
}

type docPattern struct {
	re   *regexp.Regexp
	kind agenda.DocRequestType
}

// New creates a Router that recognises botName as a standalone token,
// prefix, or "@name" mention.
func New(botName string) *Router {
	return &Router{
		botName:    botName,
		namedRe:    compileNamedAddress(botName),
		silenceRe:  compileAll(silencePhrases),
		timeRe:     compileAll(timeQueryPhrases),
		skipRe:     compileAll(skipPhrases),
		endRe:      compileAll(endPhrases),
		overrideRe: compileAll(overridePhrases),
		docRe:      compileDocPatterns(),
	}
}

func compileNamedAddress(name string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(strings.TrimSpace(name))
	// Matches the name as a standalone token or prefix ("Beat, ..."), or an
	// "@name" mention, case-insensitively.
	pattern := `(?i)(^|[^a-z0-9])@?` + escaped + `\b`
	return regexp.MustCompile(pattern)
}

func compileAll(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(phrases))
	for i, p := range phrases {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

var silencePhrases = []string{
	`please be quiet`,
	`stop interrupting`,
	`we\'ve got this`,
	`we have got this`,
	`that\'s enough for now`,
	`give us a (minute|moment)`,
}

var timeQueryPhrases = []string{
	`how much time`,
	`time left`,
	`what time is it`,
	`time remaining`,
	`how long (do we|have we) (got|left)`,
}

var skipPhrases = []string{
	`skip this`,
	`move on`,
	`next topic`,
	`next item`,
	`let\'s skip`,
}

var endPhrases = []string{
	`end the meeting`,
	`wrap up now`,
	`adjourn`,
	`that\'s it for today`,
	`call it a day`,
}

var overridePhrases = []string{
	`keep going`,
	`give us more time`,
	`a few more minutes`,
	`need more time`,
	`not quite done`,
}

func compileDocPatterns() []docPattern {
	return []docPattern{
		{re: regexp.MustCompile(`(?i)(attendance|who (was|is) (here|present))`), kind: agenda.DocAttendance},
		{re: regexp.MustCompile(`(?i)(action items?|action list|who\'s doing what)`), kind: agenda.DocActionItems},
		{re: regexp.MustCompile(`(?i)(summary|summarize|summarise) (this|the) meeting`), kind: agenda.DocSummary},
		{re: regexp.MustCompile(`(?i)(keep a record of|note down|write (this|that) down|document this)`), kind: agenda.DocCustom},
	}
}

// Classify routes a single utterance to an intent. style gates whether
// non-silence intents require named address; in [config.StyleChatting]
// everything except silence requests falls through to KindGeneral.
func (r *Router) Classify(text string, style config.Style) Classification {
	trimmed := strings.TrimSpace(text)
	named := r.namedRe.MatchString(trimmed)
	stripped := r.stripAddress(trimmed)

	// 1. Silence request — always checked regardless of style or address.
	if matchAny(r.silenceRe, trimmed) {
		return Classification{Kind: KindSilenceRequest, NamedAddressed: named, Text: stripped}
	}

	if style == config.StyleChatting {
		return Classification{Kind: KindGeneral, NamedAddressed: named, Text: stripped}
	}

	// In non-chatting modes, intents 2-8 only trigger on named address.
	if !named {
		return Classification{Kind: KindGeneral, NamedAddressed: false, Text: stripped}
	}

	switch {
	case matchAny(r.timeRe, stripped):
		return Classification{Kind: KindTimeQuery, NamedAddressed: true, Text: stripped}
	case matchAny(r.skipRe, stripped):
		return Classification{Kind: KindSkip, NamedAddressed: true, Text: stripped}
	case matchAny(r.endRe, stripped):
		return Classification{Kind: KindEnd, NamedAddressed: true, Text: stripped}
	case matchAny(r.overrideRe, stripped):
		return Classification{Kind: KindOverride, NamedAddressed: true, Text: stripped}
	}

	if req, ok := r.classifyDocRequest(stripped); ok {
		return Classification{Kind: KindDocumentRequest, NamedAddressed: true, DocRequest: req, Text: stripped}
	}

	return Classification{Kind: KindNamedAddress, NamedAddressed: true, Text: stripped}
}

func (r *Router) classifyDocRequest(text string) (agenda.DocumentRequest, bool) {
	for _, p := range r.docRe {
		if p.re.MatchString(text) {
			return agenda.DocumentRequest{
				Type:        p.kind,
				Description: text,
				Slug:        Slugify(p.kind, text),
			}, true
		}
	}
	return agenda.DocumentRequest{}, false
}

// stripAddress removes a leading "name," or "@name" prefix so downstream
// consumers (LM node, deterministic replies) see clean utterance text.
func (r *Router) stripAddress(text string) string {
	loc := r.namedRe.FindStringIndex(text)
	if loc == nil || loc[0] > 0 {
		return text
	}
	return strings.TrimSpace(strings.TrimLeft(text[loc[1]:], ", "))
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Slugify produces a lowercase, hyphenated filename slug. Custom requests
// are slugged from their description (truncated) since there can be many;
// the three fixed types always produce the same slug so a duplicate request
// dedupes deterministically so a repeated request never re-queues. Shared
// with [internal/tools] so a tool-enqueued custom document collides on the
// same slug as an equivalent spoken request.
func Slugify(kind agenda.DocRequestType, description string) string {
	switch kind {
	case agenda.DocAttendance:
		return "attendance"
	case agenda.DocActionItems:
		return "action-items"
	case agenda.DocSummary:
		return "summary"
	default:
		words := strings.Fields(strings.ToLower(description))
		if len(words) > 6 {
			words = words[:6]
		}
		return "custom-" + strings.Join(words, "-")
	}
}
