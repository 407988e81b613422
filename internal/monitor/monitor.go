// Package monitor implements the Monitoring Scheduler: a single
// goroutine-per-session ticker loop that drives the facilitation engine's
// time-based behaviour — time-warning and overtime checks, tangent checks,
// and periodic state-snapshot publication. It mirrors the ticker-loop shape
// used elsewhere in the codebase for periodic background work: a
// sync.Once-guarded done channel, a select over ctx.Done/done/ticker.C, and
// an idempotent Stop.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/coordinator"
	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/internal/gate"
	"github.com/beatmeet/beat/internal/tangent"
	"github.com/beatmeet/beat/pkg/types"
)

// DefaultInterval is the default tick cadence.
const DefaultInterval = 15 * time.Second

// heartbeatInterval bounds how long the scheduler may go without publishing
// an agenda-state snapshot even if nothing has transitioned.
const heartbeatInterval = 60 * time.Second

// tangentWindow is the recent-transcript window considered for a tangent
// check on any given tick.
const tangentWindow = 60 * time.Second

// ItemSummarizer condenses a completed item's transcript into structured
// notes. Implemented by [internal/summarizer.Summarizer].
type ItemSummarizer interface {
	Summarize(ctx context.Context, topic string, transcript []types.TranscriptEntry) agenda.ItemNotes
}

// MemoryRecorder records a completed item's notes into the facilitator's
// meeting memory. Implemented by [internal/facilmem.Memory].
type MemoryRecorder interface {
	Record(itemID int, topic string, notes agenda.ItemNotes)
	Snapshot() string
}

// Publisher delivers the agenda-state snapshot to the room. Satisfied by
// [pkg/room.Connection].
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Config configures a Scheduler.
type Config struct {
	Machine     *agenda.Machine
	Coordinator *coordinator.Coordinator
	Assessor    *tangent.Assessor
	Summarizer  ItemSummarizer
	Memory      MemoryRecorder
	Publisher   Publisher

	// Interval is the tick cadence. Defaults to DefaultInterval if zero.
	Interval time.Duration

	// OnTerminate is invoked once, from the scheduler's own goroutine, when
	// the loop self-terminates because the agenda has been exhausted (the
	// WrapUp candidate has just been dispatched). Session Lifecycle uses
	// this to trigger document assembly and connection teardown. May be nil.
	OnTerminate func()
}

// Scheduler is the Monitoring Scheduler.
type Scheduler struct {
	machine     *agenda.Machine
	coordinator *coordinator.Coordinator
	assessor    *tangent.Assessor
	summarizer  ItemSummarizer
	memory      MemoryRecorder
	publisher   Publisher
	interval    time.Duration
	onTerminate func()

	mu          sync.Mutex
	lastPublish time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		machine:     cfg.Machine,
		coordinator: cfg.Coordinator,
		assessor:    cfg.Assessor,
		summarizer:  cfg.Summarizer,
		memory:      cfg.Memory,
		publisher:   cfg.Publisher,
		interval:    interval,
		onTerminate: cfg.OnTerminate,
		done:        make(chan struct{}),
	}
}

// Start begins the ticker loop in a background goroutine. The goroutine
// runs until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the loop. Safe to call multiple times and from any goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scheduling pass. The ordering matches the documented
// algorithm: chatting-mode refresh short-circuits everything else; an
// exhausted agenda triggers WrapUp and terminates the loop; time transitions
// take priority over the tangent check in the same tick; a snapshot is
// published after every transition, otherwise at most once per heartbeat
// interval.
func (s *Scheduler) tick(ctx context.Context) {
	if s.machine.Style() == config.StyleChatting {
		s.maybePublish(ctx, false)
		return
	}

	cur, ok := s.machine.CurrentItem()
	if !ok {
		s.dispatchWrapUp(ctx)
		s.maybePublish(ctx, true)
		s.terminate()
		return
	}

	transitioned := false
	switch s.machine.CheckTimeState() {
	case agenda.TransitionWarningEntered:
		transitioned = true
		s.submitTimeWarning(ctx)

	case agenda.TransitionOvertime:
		transitioned = true
		if s.machine.OverrideActive() {
			// The item is Extended; it advances once the grace window ends.
			break
		}
		completed := cur
		transcript := s.machine.ItemTranscript(completed.ID)

		next, advanced := s.machine.AdvanceToNext()
		if advanced {
			s.submitTransition(ctx, next)
			s.runSummarization(completed.ID, completed.Topic, transcript)
		} else {
			s.runSummarization(completed.ID, completed.Topic, transcript)
			s.dispatchWrapUp(ctx)
			s.maybePublish(ctx, true)
			s.terminate()
			return
		}
	}

	if !transitioned {
		s.maybeRunTangentCheck(ctx, cur)
	}

	s.maybePublish(ctx, transitioned)
}

func (s *Scheduler) submitTimeWarning(ctx context.Context) {
	if s.machine.InterventionCooldownActive() {
		slog.Info("monitor: time warning suppressed by cooldown")
		return
	}
	status := s.machine.TimeStatus()
	text := fmt.Sprintf("About %s left on %s.", formatMinutes(status.RemainingMinutes), status.Topic)
	s.coordinator.Dispatch(ctx, gate.Candidate{Text: text, Trigger: gate.TimeWarning}, 0)
}

func (s *Scheduler) submitTransition(ctx context.Context, next agenda.AgendaItem) {
	text := fmt.Sprintf("Let's move on to %s.", next.Topic)
	s.coordinator.Dispatch(ctx, gate.Candidate{Text: text, Trigger: gate.Transition}, 0)
}

func (s *Scheduler) dispatchWrapUp(ctx context.Context) {
	text := "That wraps up our agenda for today. Thanks, everyone."
	s.coordinator.Dispatch(ctx, gate.Candidate{Text: text, Trigger: gate.WrapUp}, 0)
}

func (s *Scheduler) maybeRunTangentCheck(ctx context.Context, cur agenda.AgendaItem) {
	if s.assessor == nil {
		return
	}
	if !s.machine.CanInterveneForTangent() || s.machine.InterventionCooldownActive() {
		return
	}
	recent := s.machine.RecentTranscript(tangentWindow)
	if len(recent) == 0 {
		return
	}

	status := s.machine.TimeStatus()
	assessment := s.assessor.Assess(ctx, tangent.Input{
		Topic:            cur.Topic,
		AllocatedMinutes: status.AllocatedMinutes,
		ElapsedMinutes:   status.ElapsedMinutes,
		Style:            string(s.machine.Style()),
		RecentTranscript: recent,
	})
	if assessment.RedirectUtterance == "" {
		return
	}
	s.coordinator.Dispatch(ctx, gate.Candidate{Text: assessment.RedirectUtterance, Trigger: gate.Tangent}, assessment.Confidence)
}

// runSummarization dispatches a fire-and-forget LM call to condense the just
// completed item's transcript into notes, then attaches them to the agenda
// item and records them in the meeting memory. Failures degrade to empty
// notes; there is no retry.
func (s *Scheduler) runSummarization(itemID int, topic string, transcript []types.TranscriptEntry) {
	if s.summarizer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		notes := s.summarizer.Summarize(ctx, topic, transcript)
		s.machine.AttachNotes(itemID, notes)
		if s.memory != nil {
			s.memory.Record(itemID, topic, notes)
		}
	}()
}

func (s *Scheduler) terminate() {
	s.Stop()
	if s.onTerminate != nil {
		s.onTerminate()
	}
}

func (s *Scheduler) maybePublish(ctx context.Context, forced bool) {
	if s.publisher == nil {
		return
	}

	s.mu.Lock()
	due := forced || time.Since(s.lastPublish) >= heartbeatInterval
	if !due {
		s.mu.Unlock()
		return
	}
	s.lastPublish = time.Now()
	s.mu.Unlock()

	snapshot := s.buildSnapshot()
	if err := s.publisher.Publish(ctx, "agenda", snapshot); err != nil {
		slog.Warn("monitor: publish agenda snapshot failed", "error", err)
	}
}

func formatMinutes(minutes float64) string {
	rounded := int(minutes + 0.5)
	if rounded <= 0 {
		rounded = 1
	}
	if rounded == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", rounded)
}
