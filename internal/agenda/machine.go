package agenda

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/pkg/types"
)

// ErrAlreadyStarted is returned by [Machine.StartMeeting] when the meeting
// has already begun. The call is a documented no-op.
var ErrAlreadyStarted = errors.New("agenda: meeting already started")

// ErrNotStarted is returned by operations that require a started meeting
// (e.g. [Machine.RecordIntervention]) when called beforehand.
var ErrNotStarted = errors.New("agenda: meeting not started")

// ErrAgendaExhausted names the "no current item" condition. No Machine
// method returns it: [Machine.AdvanceToNext] reports that case as
// (zero, false).
var ErrAgendaExhausted = errors.New("agenda: no current item")

// ItemSpec describes one agenda item at construction time, before any
// lifecycle state exists.
type ItemSpec struct {
	Topic     string
	Allocated time.Duration
}

// Machine owns item progression, timing, derived quantities, and the
// intervention bookkeeping (cooldown, silence window, override grace) the
// rest of the engine reads. Every method takes the mutex below, which is
// the Machine's only concurrency control: the speech-input, chat/control
// and monitoring goroutines call its methods directly.
type Machine struct {
	mu sync.Mutex

	clock Clock
	cfg   config.FacilitationConfig

	title string
	style config.Style
	items []*AgendaItem

	// current is the index into items of the current item, or -1 when no
	// item is Active/Warning/Overtime/Extended (before start, or after the
	// agenda is exhausted).
	current int

	startedAt time.Time

	// finalizedOvertime is the sum of past items' (elapsed-allocated) overruns.
	finalizedOvertime time.Duration

	transcript       []types.TranscriptEntry
	itemTranscripts  map[int][]types.TranscriptEntry
	participants     map[string]*ParticipantInfo
	lastIntervention time.Time
	silenceUntil     time.Time
	overrideUntil    time.Time

	docRequests []DocumentRequest
	docSlugs    map[string]bool

	meetingEnded bool
}

// New creates a Machine for a freshly parsed agenda. items must be
// non-empty; each item's Topic must be non-empty and Allocated positive —
// callers (the Session Lifecycle's metadata parser) are expected to have
// validated this already.
func New(clock Clock, cfg config.FacilitationConfig, title string, specs []ItemSpec) *Machine {
	items := make([]*AgendaItem, len(specs))
	for i, spec := range specs {
		items[i] = &AgendaItem{
			ID:        i,
			Topic:     spec.Topic,
			Allocated: spec.Allocated,
			State:     StateUpcoming,
		}
	}
	return &Machine{
		clock:           clock,
		cfg:             cfg,
		title:           title,
		style:           cfg.Style,
		items:           items,
		current:         -1,
		itemTranscripts: make(map[int][]types.TranscriptEntry),
		participants:    make(map[string]*ParticipantInfo),
	}
}

// Title returns the agenda's title.
func (m *Machine) Title() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.title
}

// Style returns the current facilitation style.
func (m *Machine) Style() config.Style {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.style
}

// SetStyle updates the facilitation style. Style changes are commutative:
// the effective style is whichever was set last.
func (m *Machine) SetStyle(s config.Style) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.style = s
}

// Items returns a value-copy snapshot of every agenda item, in order.
func (m *Machine) Items() []AgendaItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgendaItem, len(m.items))
	for i, it := range m.items {
		out[i] = it.clone()
	}
	return out
}

// CurrentItem returns a copy of the current item and true, or the zero value
// and false if no item is currently active.
func (m *Machine) CurrentItem() (AgendaItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentItemLocked()
}

func (m *Machine) currentItemLocked() (AgendaItem, bool) {
	if m.current < 0 || m.current >= len(m.items) {
		return AgendaItem{}, false
	}
	return m.items[m.current].clone(), true
}

// Started reports whether [Machine.StartMeeting] has been called.
func (m *Machine) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.startedAt.IsZero()
}

// StartMeeting sets the meeting start to now and transitions item 0 to
// Active. Fails-noop (returns [ErrAlreadyStarted]) if already started.
func (m *Machine) StartMeeting() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.startedAt.IsZero() {
		return ErrAlreadyStarted
	}
	if len(m.items) == 0 {
		return errors.New("agenda: empty agenda")
	}

	now := m.clock.Now()
	m.startedAt = now
	m.current = 0
	m.items[0].State = StateActive
	m.items[0].StartedAt = now
	return nil
}

// liveElapsed returns the current item's elapsed time as of now, without
// mutating state.
func (m *Machine) liveElapsed(now time.Time) time.Duration {
	item, ok := m.currentItemLockedPtr()
	if !ok {
		return 0
	}
	if item.StartedAt.IsZero() {
		return 0
	}
	d := now.Sub(item.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (m *Machine) currentItemLockedPtr() (*AgendaItem, bool) {
	if m.current < 0 || m.current >= len(m.items) {
		return nil, false
	}
	return m.items[m.current], true
}

// AdvanceToNext closes the current item (marking it Completed and
// accumulating its overrun into the finalised meeting overtime), selects
// the next Upcoming item and transitions it to Active. Returns the new
// current item, or (zero, false) once the agenda is exhausted.
func (m *Machine) AdvanceToNext() (AgendaItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.currentItemLockedPtr()
	if !ok {
		return AgendaItem{}, false
	}

	now := m.clock.Now()
	elapsed := m.liveElapsed(now)
	cur.ActualElapsed = elapsed
	cur.State = StateCompleted
	if overrun := elapsed - cur.Allocated; overrun > 0 {
		m.finalizedOvertime += overrun
	}

	// Find the next Upcoming item after the current index.
	next := -1
	for i := m.current + 1; i < len(m.items); i++ {
		if m.items[i].State == StateUpcoming {
			next = i
			break
		}
	}
	if next == -1 {
		m.current = -1
		return AgendaItem{}, false
	}

	m.items[next].State = StateActive
	m.items[next].StartedAt = now
	m.current = next
	return m.items[next].clone(), true
}

// AttachNotes attaches notes to the item with the given ID exactly once. A
// second call on an already-noted item is a no-op, per the "notes attached
// once" invariant.
func (m *Machine) AttachNotes(itemID int, notes ItemNotes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == itemID {
			if it.Notes == nil {
				it.Notes = &notes
			}
			return
		}
	}
}

// CheckTimeState examines elapsed time against the current item's allocated
// duration and returns the resulting [Transition], mutating item state as a
// side effect.
func (m *Machine) CheckTimeState() Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.currentItemLockedPtr()
	if !ok {
		return TransitionNone
	}

	now := m.clock.Now()
	elapsed := m.liveElapsed(now)

	if elapsed >= item.Allocated && item.State != StateExtended {
		if !m.overrideUntil.IsZero() && now.Before(m.overrideUntil) {
			item.State = StateExtended
		} else {
			item.State = StateOvertime
		}
		return TransitionOvertime
	}

	ratio := m.cfg.WarningRatio
	if ratio <= 0 {
		ratio = 0.80
	}
	warnAt := time.Duration(float64(item.Allocated) * ratio)
	if elapsed >= warnAt && item.State == StateActive {
		item.State = StateWarning
		return TransitionWarningEntered
	}

	if item.State == StateExtended && !now.Before(m.overrideUntil) {
		item.State = StateOvertime
		return TransitionOvertime
	}

	return TransitionNone
}

// RecordOverride grants a grace window of the given duration starting now.
// If the current item is Overtime, it is moved to Extended.
func (m *Machine) RecordOverride(grace time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.overrideUntil = now.Add(grace)

	if item, ok := m.currentItemLockedPtr(); ok && item.State == StateOvertime {
		item.State = StateExtended
	}
}

// OverrideActive reports whether an override grace window is currently in
// effect.
func (m *Machine) OverrideActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	return !m.overrideUntil.IsZero() && now.Before(m.overrideUntil)
}

// RecordIntervention timestamps the most recent spoken intervention. Returns
// [ErrNotStarted] (a no-op) if called before the meeting has started.
func (m *Machine) RecordIntervention() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startedAt.IsZero() {
		return ErrNotStarted
	}
	m.lastIntervention = m.clock.Now()
	return nil
}

// InterventionCooldownActive reports whether fewer than the configured
// intervention-cooldown seconds have elapsed since the last recorded
// intervention. Intro, WrapUp, and Transition candidates are exempt from
// this check by the caller (the Monitoring Scheduler), not by this method.
func (m *Machine) InterventionCooldownActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastIntervention.IsZero() {
		return false
	}
	cooldown := time.Duration(m.cfg.InterventionCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return m.clock.Now().Sub(m.lastIntervention) < cooldown
}

// CanInterveneForTangent reports whether style permits tangent checks
// (anything but chatting) and whether enough time has elapsed since the
// last intervention per the style's tangent tolerance.
func (m *Machine) CanInterveneForTangent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.style == config.StyleChatting {
		return false
	}
	if m.lastIntervention.IsZero() {
		return true
	}
	tolerance := profileFor(m.style).TangentTolerance
	return m.clock.Now().Sub(m.lastIntervention) >= tolerance
}

// TangentThreshold returns the current style's minimum tangent confidence,
// or a negative value if tangent interventions never apply (chatting).
func (m *Machine) TangentThreshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return profileFor(m.style).TangentThreshold
}

// TimeStatus returns a deterministic snapshot of current timing, used by
// the Command Router's TimeQuery reply and monitoring warning text.
func (m *Machine) TimeStatus() TimeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var total float64
	if !m.startedAt.IsZero() {
		total = now.Sub(m.startedAt).Minutes()
	}

	item, ok := m.currentItemLockedPtr()
	if !ok {
		return TimeStatus{
			TotalMeetingMinutes: total,
			OvertimeMinutes:     m.finalizedOvertime.Minutes(),
			HasCurrentItem:      false,
		}
	}

	elapsed := m.liveElapsed(now)
	remaining := item.Allocated - elapsed
	if remaining < 0 {
		remaining = 0
	}
	overrun := elapsed - item.Allocated
	if overrun < 0 {
		overrun = 0
	}

	return TimeStatus{
		Topic:               item.Topic,
		ElapsedMinutes:      elapsed.Minutes(),
		RemainingMinutes:    remaining.Minutes(),
		AllocatedMinutes:    item.Allocated.Minutes(),
		TotalMeetingMinutes: total,
		OvertimeMinutes:     m.finalizedOvertime.Minutes() + overrun.Minutes(),
		HasCurrentItem:      true,
	}
}

// BuildContext assembles the [MeetingContext] snapshot the Speech Gate
// evaluates against, folding in a Tangent Assessor confidence score (0.0 if
// not applicable to this evaluation).
func (m *Machine) BuildContext(tangentConfidence float64) MeetingContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	ts := m.timeStatusLocked(now)

	remaining := 0
	for _, it := range m.items {
		if it.State != StateCompleted {
			remaining++
		}
	}

	state := StateUpcoming
	if item, ok := m.currentItemLockedPtr(); ok {
		state = item.State
	}

	return MeetingContext{
		Style:                  m.style,
		CurrentTopic:           ts.Topic,
		CurrentItemState:       state,
		ElapsedMinutes:         ts.ElapsedMinutes,
		AllocatedMinutes:       ts.AllocatedMinutes,
		MeetingOvertimeMinutes: ts.OvertimeMinutes,
		RecentTranscript:       m.recentTranscriptLocked(now, m.transcriptWindow()),
		OverrideActive:         !m.overrideUntil.IsZero() && now.Before(m.overrideUntil),
		SilenceActive:          !m.silenceUntil.IsZero() && now.Before(m.silenceUntil),
		TangentConfidence:      tangentConfidence,
		ItemsRemaining:         remaining,
		Now:                    now,
	}
}

// timeStatusLocked is TimeStatus's body, callable while m.mu is already held.
func (m *Machine) timeStatusLocked(now time.Time) TimeStatus {
	var total float64
	if !m.startedAt.IsZero() {
		total = now.Sub(m.startedAt).Minutes()
	}
	item, ok := m.currentItemLockedPtr()
	if !ok {
		return TimeStatus{TotalMeetingMinutes: total, OvertimeMinutes: m.finalizedOvertime.Minutes()}
	}
	elapsed := m.liveElapsed(now)
	remaining := item.Allocated - elapsed
	if remaining < 0 {
		remaining = 0
	}
	overrun := elapsed - item.Allocated
	if overrun < 0 {
		overrun = 0
	}
	return TimeStatus{
		Topic:               item.Topic,
		ElapsedMinutes:      elapsed.Minutes(),
		RemainingMinutes:    remaining.Minutes(),
		AllocatedMinutes:    item.Allocated.Minutes(),
		TotalMeetingMinutes: total,
		OvertimeMinutes:     m.finalizedOvertime.Minutes() + overrun.Minutes(),
		HasCurrentItem:      true,
	}
}

// UpdateSilenceSignal sets the silence-until deadline to now plus the
// configured silence window. Repeated calls refresh the deadline.
func (m *Machine) UpdateSilenceSignal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	window := time.Duration(m.cfg.SilenceWindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	m.silenceUntil = m.clock.Now().Add(window)
}

// SilenceActive reports whether a silence window is currently in effect.
func (m *Machine) SilenceActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	return !m.silenceUntil.IsZero() && now.Before(m.silenceUntil)
}

// QueueDocumentRequest enqueues req, deduplicating by slug. Returns true if
// the request was newly queued, false if an identical slug was already
// pending (or already fulfilled and recorded by the Document Assembler via
// [Machine.MarkDocumentDelivered]).
func (m *Machine) QueueDocumentRequest(req DocumentRequest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docSlugs == nil {
		m.docSlugs = make(map[string]bool)
	}
	if m.docSlugs[req.Slug] {
		return false
	}
	m.docSlugs[req.Slug] = true
	m.docRequests = append(m.docRequests, req)
	return true
}

// DocumentRequests returns a copy of all queued document requests.
func (m *Machine) DocumentRequests() []DocumentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DocumentRequest, len(m.docRequests))
	copy(out, m.docRequests)
	return out
}

// RecordParticipant updates first/last-seen timestamps for identity.
func (m *Machine) RecordParticipant(identity, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordParticipantLocked(identity, name)
}

func (m *Machine) recordParticipantLocked(identity, name string) {
	now := m.clock.Now()
	if p, ok := m.participants[identity]; ok {
		p.LastSeen = now
		return
	}
	_ = name // identity is the map key; name is carried by callers via transcript entries
	m.participants[identity] = &ParticipantInfo{Identity: identity, FirstSeen: now, LastSeen: now}
}

// Participants returns a copy of the seen-participant roster, sorted by
// first-seen time.
func (m *Machine) Participants() []ParticipantInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ParticipantInfo, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

// transcriptWindow returns the configured rolling-buffer window, defaulting
// to 120s (2 minutes) per spec.
func (m *Machine) transcriptWindow() time.Duration {
	window := time.Duration(m.cfg.TranscriptWindowSeconds) * time.Second
	if window <= 0 {
		window = 2 * time.Minute
	}
	return window
}

// AppendTranscript appends entry to the rolling buffer (evicting anything
// older than the transcript window) and, if a current item exists, to that
// item's unbounded per-item transcript store.
func (m *Machine) AppendTranscript(entry types.TranscriptEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordParticipantLocked(entry.SpeakerID, entry.SpeakerName)

	m.transcript = append(m.transcript, entry)
	cutoff := entry.Timestamp.Add(-m.transcriptWindow())
	evictBefore := 0
	for evictBefore < len(m.transcript) && m.transcript[evictBefore].Timestamp.Before(cutoff) {
		evictBefore++
	}
	if evictBefore > 0 {
		m.transcript = append([]types.TranscriptEntry(nil), m.transcript[evictBefore:]...)
	}

	if item, ok := m.currentItemLockedPtr(); ok {
		m.itemTranscripts[item.ID] = append(m.itemTranscripts[item.ID], entry)
	}
}

// RecentTranscript returns rolling-buffer entries no older than window,
// relative to now.
func (m *Machine) RecentTranscript(window time.Duration) []types.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentTranscriptLocked(m.clock.Now(), window)
}

func (m *Machine) recentTranscriptLocked(now time.Time, window time.Duration) []types.TranscriptEntry {
	cutoff := now.Add(-window)
	var out []types.TranscriptEntry
	for _, e := range m.transcript {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// ItemTranscript returns the unbounded transcript accumulated for the item
// with the given ID.
func (m *Machine) ItemTranscript(itemID int) []types.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TranscriptEntry, len(m.itemTranscripts[itemID]))
	copy(out, m.itemTranscripts[itemID])
	return out
}

// TryTriggerMeetingEnd flips the meeting-ended flag and returns true only on
// the first call, giving the Document Assembler its "at most once per
// meeting" idempotency guarantee and duplicate end_meeting signals their
// documented single docs_ready publication.
func (m *Machine) TryTriggerMeetingEnd() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meetingEnded {
		return false
	}
	m.meetingEnded = true
	return true
}

// MeetingEndTriggered reports whether end-of-meeting has already fired.
func (m *Machine) MeetingEndTriggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meetingEnded
}
