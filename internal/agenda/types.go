// Package agenda implements the Agenda State Machine: item progression,
// timing, intervention bookkeeping, and the derived snapshots the Speech
// Gate and Command Router consume. All mutation happens through a single
// [Machine] value, mirroring the single-control-executor discipline the
// rest of the engine follows.
package agenda

import (
	"time"

	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/pkg/types"
)

// ItemState enumerates the lifecycle states an [AgendaItem] moves through.
// Transitions are monotonic except Overtime→Extended (an override) and
// Extended→Completed (an advance).
type ItemState int

const (
	// StateUpcoming is the initial state of every item except the first.
	StateUpcoming ItemState = iota

	// StateActive is the current item before it reaches the warning ratio.
	StateActive

	// StateWarning is the current item once elapsed time crosses the
	// warning ratio of its allocated duration.
	StateWarning

	// StateOvertime is the current item once elapsed time reaches its
	// allocated duration, before any override is granted.
	StateOvertime

	// StateExtended is an overtime item whose participants were granted an
	// override grace window.
	StateExtended

	// StateCompleted is a terminal state; notes are attached exactly once
	// and the item is never re-entered.
	StateCompleted
)

// String returns the human-readable name of the state, used in logs and
// spoken text.
func (s ItemState) String() string {
	switch s {
	case StateUpcoming:
		return "upcoming"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateOvertime:
		return "overtime"
	case StateExtended:
		return "extended"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// ItemNotes holds the Item Summariser's output for a completed item.
type ItemNotes struct {
	KeyPoints   []string
	Decisions   []string
	ActionItems []string
}

// IsEmpty reports whether n carries no captured content, either because the
// Summariser never ran or because it failed and an empty notes object was
// attached per spec.
func (n *ItemNotes) IsEmpty() bool {
	return n == nil || (len(n.KeyPoints) == 0 && len(n.Decisions) == 0 && len(n.ActionItems) == 0)
}

// AgendaItem is one time-boxed topic in the meeting plan.
type AgendaItem struct {
	// ID is the stable ordinal assigned at agenda parse time. Never reused.
	ID int

	// Topic is the non-empty item title.
	Topic string

	// Allocated is the item's positive allotted duration.
	Allocated time.Duration

	// State is the current lifecycle state.
	State ItemState

	// StartedAt is set the instant the item transitions to Active. Zero
	// until then.
	StartedAt time.Time

	// ActualElapsed is frozen at the live elapsed time once the item
	// transitions to Completed. While the item is live, callers should use
	// [Machine.TimeStatus] rather than this field directly.
	ActualElapsed time.Duration

	// Notes is attached once, on completion. Nil until then.
	Notes *ItemNotes
}

// clone returns a value copy of item safe to hand to callers outside the
// Machine's lock.
func (item AgendaItem) clone() AgendaItem {
	if item.Notes != nil {
		notes := *item.Notes
		item.Notes = &notes
	}
	return item
}

// TimeStatus is the deterministic snapshot returned by the Command Router's
// TimeQuery intent and the Monitoring Scheduler's warning text — never
// routed through the LM.
type TimeStatus struct {
	// Topic is the current item's title. Empty if the agenda is exhausted.
	Topic string

	// ElapsedMinutes is how long the current item has been live.
	ElapsedMinutes float64

	// RemainingMinutes is max(0, allocated-elapsed).
	RemainingMinutes float64

	// AllocatedMinutes is the current item's allotted duration.
	AllocatedMinutes float64

	// TotalMeetingMinutes is time since start_meeting.
	TotalMeetingMinutes float64

	// OvertimeMinutes is cumulative overtime: finalised past items' overruns
	// plus the current item's live overrun, if any.
	OvertimeMinutes float64

	// HasCurrentItem is false once the agenda is exhausted.
	HasCurrentItem bool
}

// MeetingContext is the derived, immutable snapshot the Speech Gate
// evaluates against. Building it is the Machine's job; evaluating it is the
// Gate's.
type MeetingContext struct {
	Style                  config.Style
	CurrentTopic           string
	CurrentItemState       ItemState
	ElapsedMinutes         float64
	AllocatedMinutes       float64
	MeetingOvertimeMinutes float64
	RecentTranscript       []types.TranscriptEntry
	OverrideActive         bool
	SilenceActive          bool
	TangentConfidence      float64
	ItemsRemaining         int
	Now                    time.Time
}

// DocRequestType enumerates the document kinds a [DocumentRequest] can name.
type DocRequestType int

const (
	DocAttendance DocRequestType = iota
	DocActionItems
	DocSummary
	DocCustom
)

// String returns the human-readable name of the document type.
func (t DocRequestType) String() string {
	switch t {
	case DocAttendance:
		return "attendance"
	case DocActionItems:
		return "action-items"
	case DocSummary:
		return "summary"
	case DocCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// DocumentRequest is a queued request for the Document Assembler, either
// enqueued by the Command Router or synthesised for the always-on documents.
type DocumentRequest struct {
	Type        DocRequestType
	Description string
	Slug        string
}

// Transition is the result of [Machine.CheckTimeState].
type Transition int

const (
	// TransitionNone means no time-based state change occurred this check.
	TransitionNone Transition = iota

	// TransitionWarningEntered means the current item crossed the warning
	// ratio and moved Active→Warning.
	TransitionWarningEntered

	// TransitionOvertime means the current item reached or exceeded its
	// allocated duration (or an Extended item's override expired). The
	// caller is expected to advance unless an override window is active.
	TransitionOvertime
)

// ParticipantInfo tracks first/last-seen timestamps for a single identity.
type ParticipantInfo struct {
	Identity  string
	FirstSeen time.Time
	LastSeen  time.Time
}
