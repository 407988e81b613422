// Package session implements the Session Lifecycle: the per-room entry
// point that connects to a room, parses its agenda metadata, wires up the
// Agenda State Machine and every component built on top of it, and runs
// the meeting end to end — from the Intro candidate through to a single
// Document Assembler pass on termination.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/internal/coordinator"
	"github.com/beatmeet/beat/internal/docassembler"
	"github.com/beatmeet/beat/internal/facilmem"
	"github.com/beatmeet/beat/internal/gate"
	"github.com/beatmeet/beat/internal/mcp/mcphost"
	"github.com/beatmeet/beat/internal/mcp/tier"
	"github.com/beatmeet/beat/internal/monitor"
	"github.com/beatmeet/beat/internal/router"
	"github.com/beatmeet/beat/internal/summarizer"
	"github.com/beatmeet/beat/internal/tangent"
	"github.com/beatmeet/beat/internal/tools"
	"github.com/beatmeet/beat/pkg/docsink"
	"github.com/beatmeet/beat/pkg/provider/llm"
	"github.com/beatmeet/beat/pkg/provider/stt"
	"github.com/beatmeet/beat/pkg/provider/tts"
	"github.com/beatmeet/beat/pkg/room"
	"github.com/beatmeet/beat/pkg/types"
)

// defaultOverrideGrace is used when facilitation.override_grace_seconds is
// unset.
const defaultOverrideGrace = 120 * time.Second

// generalLMTimeout bounds a single General/DirectQuestion LM round (the
// initial call plus, if the model requested tools, one follow-up call).
const generalLMTimeout = 20 * time.Second

// Providers carries every external collaborator a Facilitator needs. STT is
// optional: a room with no STT provider runs in chat/control-only mode,
// deaf to spoken utterances but still reachable over the control and chat
// topics.
type Providers struct {
	LLM   llm.Provider
	STT   stt.Provider
	TTS   tts.Provider
	Voice tts.VoiceProfile
}

// origin identifies which channel an utterance arrived on, which in turn
// decides how the Intervention Coordinator delivers any reply.
type origin int

const (
	originVoice origin = iota
	originChat
)

// Facilitator is the Session Lifecycle: it owns one room's entire
// facilitation stack for the duration of one meeting. A Facilitator is
// single-use — call Run once.
type Facilitator struct {
	platform  room.Platform
	roomID    string
	baseCfg   config.FacilitationConfig
	providers Providers
	sink      docsink.Sink
	mcpHost   *mcphost.Host
	tierSel   *tier.Selector
	clock     agenda.Clock

	machine     *agenda.Machine
	router      *router.Router
	coordinator *coordinator.Coordinator
	scheduler   *monitor.Scheduler
	assembler   *docassembler.Assembler
	memory      *facilmem.Memory
	speech      *speechInput

	conn          room.Connection
	overrideGrace time.Duration

	terminateOnce sync.Once
	done          chan struct{}
}

// New creates a Facilitator for roomID on platform. baseCfg supplies the
// cooldowns and thresholds the room's parsed style is layered onto; sink
// receives the Document Assembler's output; mcpHost may be nil, in which
// case the General/DirectQuestion LM path runs without tools.
func New(platform room.Platform, roomID string, baseCfg config.FacilitationConfig, providers Providers, sink docsink.Sink, mcpHost *mcphost.Host) *Facilitator {
	return &Facilitator{
		platform:  platform,
		roomID:    roomID,
		baseCfg:   baseCfg,
		providers: providers,
		sink:      sink,
		mcpHost:   mcpHost,
		tierSel:   tier.NewSelector(),
		clock:     agenda.SystemClock{},
		done:      make(chan struct{}),
	}
}

// Run executes the full Session Lifecycle: connect, wait for a human, parse
// metadata, build the meeting state, install handlers, speak the Intro, and
// run the Monitoring Scheduler until the meeting ends or ctx is cancelled.
// It returns once the session has fully torn down.
func (f *Facilitator) Run(ctx context.Context) error {
	conn, err := f.platform.Connect(ctx, f.roomID)
	if err != nil {
		return fmt.Errorf("session: connect room %q: %w", f.roomID, err)
	}
	f.conn = conn
	defer conn.Disconnect()

	if err := f.waitForFirstParticipant(ctx, conn); err != nil {
		return fmt.Errorf("session: wait for participant: %w", err)
	}

	raw, err := conn.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("session: fetch room metadata: %w", err)
	}
	title, style, specs, botName, err := parseMetadata(raw)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	facCfg := f.baseCfg
	facCfg.Style = style
	f.overrideGrace = overrideGraceDuration(facCfg)

	f.machine = agenda.New(f.clock, facCfg, title, specs)
	f.router = router.New(botName)

	speaker := coordinator.NewTTSSpeaker(f.providers.TTS, f.providers.Voice, f.audioSink())
	f.coordinator = coordinator.New(f.machine, speaker, newChatPublisher(conn))
	f.memory = facilmem.New()
	f.assembler = docassembler.New(f.machine, f.sink, conn, f.providers.LLM)

	if f.mcpHost != nil {
		slugger := func(desc string) string { return router.Slugify(agenda.DocCustom, desc) }
		if err := tools.Register(f.mcpHost, f.machine, slugger); err != nil {
			slog.Warn("session: register built-in tools failed", "room", f.roomID, "error", err)
		}
	}

	var assessor *tangent.Assessor
	var summ monitor.ItemSummarizer
	if f.providers.LLM != nil {
		assessor = tangent.New(f.providers.LLM)
		summ = summarizer.New(f.providers.LLM)
	}

	f.scheduler = monitor.New(monitor.Config{
		Machine:     f.machine,
		Coordinator: f.coordinator,
		Assessor:    assessor,
		Summarizer:  summ,
		Memory:      f.memory,
		Publisher:   conn,
		Interval:    time.Duration(facCfg.MonitoringIntervalSeconds) * time.Second,
		OnTerminate: func() { f.terminate(context.Background()) },
	})

	conn.OnMessage(controlTopic, func(msg room.Message) { f.handleControl(ctx, msg) })
	conn.OnMessage(chatTopic, func(msg room.Message) { f.handleChat(ctx, msg) })

	if f.providers.STT != nil {
		if src, ok := conn.(room.RawAudioSource); ok {
			f.speech = newSpeechInput(f.providers.STT, func(userID, text string) {
				f.handleVoiceUtterance(ctx, userID, participantName(conn, userID), text)
			})
			go f.speech.run(ctx, src.Frames())
		} else {
			slog.Info("session: room platform exposes no raw audio source; running chat/control-only", "room", f.roomID)
		}
	}

	if err := f.machine.StartMeeting(); err != nil {
		slog.Warn("session: start meeting", "room", f.roomID, "error", err)
	}
	intro := fmt.Sprintf("%s Let's get started with %s.", agenda.ToneFragment(style), title)
	f.coordinator.Dispatch(ctx, gate.Candidate{Text: intro, Trigger: gate.Intro}, 0)

	f.scheduler.Start(ctx)

	select {
	case <-f.done:
	case <-ctx.Done():
		f.terminate(context.Background())
	}

	if f.speech != nil {
		f.speech.closeAll()
	}
	return nil
}

// waitForFirstParticipant blocks until at least one participant has joined
// the room, or ctx is cancelled.
func (f *Facilitator) waitForFirstParticipant(ctx context.Context, conn room.Connection) error {
	if len(conn.Participants()) > 0 {
		return nil
	}

	joined := make(chan struct{})
	var once sync.Once
	conn.OnParticipantChange(func(evt room.Event) {
		if evt.Type == room.EventJoin {
			once.Do(func() { close(joined) })
		}
	})

	select {
	case <-joined:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate runs the Document Assembler at most once and signals Run to
// unwind. Safe to call multiple times and from multiple goroutines — the
// Monitoring Scheduler's self-termination, an explicit end_meeting control
// signal, and ctx cancellation all funnel through here.
func (f *Facilitator) terminate(ctx context.Context) {
	f.terminateOnce.Do(func() {
		f.scheduler.Stop()
		if f.machine.TryTriggerMeetingEnd() {
			if err := f.assembler.AssembleAndDeliver(ctx, f.roomID); err != nil {
				slog.Warn("session: document assembly failed", "room", f.roomID, "error", err)
			}
		}
		close(f.done)
	})
}

func (f *Facilitator) audioSink() coordinator.AudioSink {
	return func(chunk []byte) {
		if sink, ok := f.conn.(room.RawAudioSink); ok {
			sink.SendAudio(chunk)
		}
	}
}

// handleVoiceUtterance is the speech-input handler installed in step 5 of
// the lifecycle: every final transcript from the room's audio is appended
// to the rolling buffer and routed through the Command Router.
func (f *Facilitator) handleVoiceUtterance(ctx context.Context, speakerID, speakerName, text string) {
	f.machine.AppendTranscript(types.TranscriptEntry{
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Text:        text,
		Timestamp:   f.clock.Now(),
	})

	cls := f.router.Classify(text, f.machine.Style())
	f.routeIntent(ctx, cls, originVoice)
}

// handleControl implements step 6's control-channel handling for style
// changes and the explicit end-meeting button.
func (f *Facilitator) handleControl(ctx context.Context, msg room.Message) {
	var payload controlPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		slog.Warn("session: malformed control message", "room", f.roomID, "error", err)
		return
	}

	switch payload.Type {
	case controlSetStyle:
		style := config.Style(payload.Style)
		if !style.IsValid() {
			slog.Warn("session: ignoring invalid style change", "room", f.roomID, "style", payload.Style)
			return
		}
		f.machine.SetStyle(style)
	case controlEndMeeting:
		f.terminate(ctx)
	default:
		slog.Warn("session: unknown control message type", "room", f.roomID, "type", payload.Type)
	}
}

// handleChat implements step 6's chat-panel handling: a message addressed
// to the bot by name is routed through the Command Router exactly like a
// spoken utterance, but its reply is published back on the chat topic
// instead of spoken, per the documented chat-origin resolution.
func (f *Facilitator) handleChat(ctx context.Context, msg room.Message) {
	var payload chatPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		slog.Warn("session: malformed chat message", "room", f.roomID, "error", err)
		return
	}

	cls := f.router.Classify(payload.Text, f.machine.Style())
	if !cls.NamedAddressed {
		return
	}
	f.routeIntent(ctx, cls, originChat)
}

// routeIntent dispatches a classified utterance to the matching handler,
// regardless of which channel it arrived on. origin only affects how a
// reply is delivered (dispatchAck), not whether the underlying intent acts.
func (f *Facilitator) routeIntent(ctx context.Context, cls router.Classification, src origin) {
	switch cls.Kind {
	case router.KindSilenceRequest:
		f.machine.UpdateSilenceSignal()

	case router.KindTimeQuery:
		status := f.machine.TimeStatus()
		f.dispatchAck(ctx, src, formatTimeStatus(status))

	case router.KindSkip:
		f.advanceAgenda(ctx)

	case router.KindEnd:
		f.terminate(ctx)

	case router.KindOverride:
		f.machine.RecordOverride(f.overrideGrace)
		f.dispatchAck(ctx, src, "Okay, taking a few more minutes on this.")

	case router.KindDocumentRequest:
		queued := f.machine.QueueDocumentRequest(cls.DocRequest)
		f.dispatchAck(ctx, src, documentRequestAck(cls.DocRequest, queued))

	case router.KindNamedAddress:
		f.dispatchAck(ctx, src, f.generalReply(ctx, cls.Text))

	case router.KindGeneral:
		if cls.NamedAddressed {
			f.dispatchAck(ctx, src, f.generalReply(ctx, cls.Text))
		}
	}
}

// advanceAgenda implements the Skip intent: close the current item,
// summarise it, and either transition to the next item or — if the agenda
// is exhausted — begin end-of-meeting.
func (f *Facilitator) advanceAgenda(ctx context.Context) {
	cur, ok := f.machine.CurrentItem()
	if !ok {
		return
	}
	transcript := f.machine.ItemTranscript(cur.ID)

	next, advanced := f.machine.AdvanceToNext()
	if !advanced {
		f.runSummarization(cur.ID, cur.Topic, transcript)
		f.terminate(ctx)
		return
	}

	text := fmt.Sprintf("Let's move on to %s.", next.Topic)
	f.coordinator.Dispatch(ctx, gate.Candidate{Text: text, Trigger: gate.Transition}, 0)
	f.runSummarization(cur.ID, cur.Topic, transcript)
}

// runSummarization mirrors the Monitoring Scheduler's fire-and-forget item
// summarisation, used here for an explicit skip rather than an overtime
// transition.
func (f *Facilitator) runSummarization(itemID int, topic string, transcript []types.TranscriptEntry) {
	if f.providers.LLM == nil {
		return
	}
	summ := summarizer.New(f.providers.LLM)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), summarizer.DefaultTimeout)
		defer cancel()
		notes := summ.Summarize(ctx, topic, transcript)
		f.machine.AttachNotes(itemID, notes)
		f.memory.Record(itemID, topic, notes)
	}()
}

// dispatchAck routes a deterministic or general-LM reply through the
// Intervention Coordinator: voice-origin replies are always eligible to
// speak (NamedAddress), chat-origin replies are published on the chat
// topic instead of spoken (DirectQuestion), mirroring the documented
// resolution for chat-panel mentions.
func (f *Facilitator) dispatchAck(ctx context.Context, src origin, text string) {
	if src == originChat {
		f.coordinator.DispatchToChat(ctx, gate.Candidate{Text: text, Trigger: gate.DirectQuestion})
		return
	}
	f.coordinator.Dispatch(ctx, gate.Candidate{Text: text, Trigger: gate.NamedAddress}, 0)
}

// generalReply runs the General/DirectQuestion LM path: a single completion
// call with the engine's built-in and MCP tools offered, followed by one
// tool-result follow-up call if the model asked to call any. Any failure
// degrades to a short apology rather than propagating an error up through
// the Command Router.
func (f *Facilitator) generalReply(ctx context.Context, text string) string {
	if f.providers.LLM == nil {
		return "I don't have a language model configured to answer that right now."
	}

	ctx, cancel := context.WithTimeout(ctx, generalLMTimeout)
	defer cancel()

	sysPrompt := f.systemPrompt()
	messages := []types.Message{{Role: "user", Content: text}}

	var toolDefs []types.ToolDefinition
	if f.mcpHost != nil {
		budget := f.tierSel.Select(text, 0)
		toolDefs = f.mcpHost.AvailableTools(budget)
	}
	f.tierSel.RecordTurn()

	resp, err := f.providers.LLM.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Messages:     messages,
		Tools:        toolDefs,
		Temperature:  0.4,
		MaxTokens:    400,
	})
	if err != nil || resp == nil {
		slog.Warn("session: general lm call failed", "room", f.roomID, "error", err)
		return "Sorry, I couldn't work that out just now."
	}
	if len(resp.ToolCalls) == 0 {
		return resp.Content
	}

	messages = append(messages, types.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
	for _, call := range resp.ToolCalls {
		messages = append(messages, types.Message{
			Role:       "tool",
			Content:    f.executeTool(ctx, call),
			ToolCallID: call.ID,
		})
	}

	final, err := f.providers.LLM.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Messages:     messages,
		Temperature:  0.4,
		MaxTokens:    400,
	})
	if err != nil || final == nil {
		slog.Warn("session: general lm follow-up call failed", "room", f.roomID, "error", err)
		return "Sorry, I couldn't work that out just now."
	}
	return final.Content
}

func (f *Facilitator) executeTool(ctx context.Context, call types.ToolCall) string {
	if f.mcpHost == nil {
		return "error: no tool host configured"
	}
	result, err := f.mcpHost.ExecuteTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return result.Content
}

// systemPrompt composes the General/DirectQuestion LM path's system prompt
// from the facilitator's identity, the current style's tone, current
// agenda status, and the accumulated meeting memory.
func (f *Facilitator) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a meeting facilitator. ")
	b.WriteString(agenda.ToneFragment(f.machine.Style()))

	if status := f.machine.TimeStatus(); status.HasCurrentItem {
		fmt.Fprintf(&b, " The current agenda item is %q, %.1f of %.1f minutes elapsed.", status.Topic, status.ElapsedMinutes, status.AllocatedMinutes)
	}

	if fragment := f.memory.Fragment(); fragment != "" {
		b.WriteString(" ")
		b.WriteString(fragment)
	}

	return b.String()
}

// formatTimeStatus renders the deterministic TimeQuery reply (§4.2's
// get_time_status) with minute-and-second precision, since a participant
// asking "how much time is left?" expects an answer as precise as the
// clock itself, not the rounded heads-up the Monitoring Scheduler speaks
// unprompted.
func formatTimeStatus(status agenda.TimeStatus) string {
	if !status.HasCurrentItem {
		return "There's no active agenda item right now."
	}
	totalSeconds := int(status.RemainingMinutes*60 + 0.5)
	if totalSeconds <= 0 {
		return fmt.Sprintf("We're past the allotted time on %s.", status.Topic)
	}
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("About %s left on %s.", durationPhrase(minutes, seconds), status.Topic)
}

// durationPhrase renders minutes and seconds with correct pluralization,
// e.g. "2 minutes 55 seconds" or "1 minute" or "45 seconds".
func durationPhrase(minutes, seconds int) string {
	var parts []string
	if minutes > 0 {
		unit := "minutes"
		if minutes == 1 {
			unit = "minute"
		}
		parts = append(parts, fmt.Sprintf("%d %s", minutes, unit))
	}
	if seconds > 0 || minutes == 0 {
		unit := "seconds"
		if seconds == 1 {
			unit = "second"
		}
		parts = append(parts, fmt.Sprintf("%d %s", seconds, unit))
	}
	return strings.Join(parts, " ")
}

func documentRequestAck(req agenda.DocumentRequest, queued bool) string {
	if !queued {
		return "That document's already queued — you'll get it once the meeting wraps up."
	}
	return "Got it, I'll have that ready once the meeting wraps up."
}

func overrideGraceDuration(cfg config.FacilitationConfig) time.Duration {
	if cfg.OverrideGraceSeconds <= 0 {
		return defaultOverrideGrace
	}
	return time.Duration(cfg.OverrideGraceSeconds) * time.Second
}

// participantName resolves a room's display name for userID, falling back
// to the ID itself if the roster doesn't (yet) know it.
func participantName(conn room.Connection, userID string) string {
	for _, p := range conn.Participants() {
		if p.ID == userID {
			return p.Name
		}
	}
	return userID
}
