package monitor

// agendaSnapshot is the wire shape published on the "agenda" topic after
// every transition (and at most once per heartbeat interval otherwise).
type agendaSnapshot struct {
	Type              string         `json:"type"`
	CurrentItemIndex  int            `json:"current_item_index"`
	Items             []itemSnapshot `json:"items"`
	ElapsedMinutes    float64        `json:"elapsed_minutes"`
	MeetingOvertime   float64        `json:"meeting_overtime"`
	TotalMeetingMins  float64        `json:"total_meeting_minutes"`
	Style             string         `json:"style"`
	MeetingNotes      string         `json:"meeting_notes"`
}

type itemSnapshot struct {
	ID              int     `json:"id"`
	Topic           string  `json:"topic"`
	DurationMinutes float64 `json:"duration_minutes"`
	State           string  `json:"state"`
	ActualElapsed   float64 `json:"actual_elapsed"`
}

func (s *Scheduler) buildSnapshot() agendaSnapshot {
	status := s.machine.TimeStatus()

	currentIndex := -1
	if cur, ok := s.machine.CurrentItem(); ok {
		currentIndex = cur.ID
	}

	items := s.machine.Items()
	out := make([]itemSnapshot, 0, len(items))
	for _, item := range items {
		elapsed := item.ActualElapsed.Minutes()
		if item.ID == currentIndex {
			elapsed = status.ElapsedMinutes
		}
		out = append(out, itemSnapshot{
			ID:              item.ID,
			Topic:           item.Topic,
			DurationMinutes: item.Allocated.Minutes(),
			State:           item.State.String(),
			ActualElapsed:   elapsed,
		})
	}

	notes := ""
	if s.memory != nil {
		notes = s.memory.Snapshot()
	}

	return agendaSnapshot{
		Type:             "agenda_state",
		CurrentItemIndex: currentIndex,
		Items:            out,
		ElapsedMinutes:   status.ElapsedMinutes,
		MeetingOvertime:  status.OvertimeMinutes,
		TotalMeetingMins: status.TotalMeetingMinutes,
		Style:            string(s.machine.Style()),
		MeetingNotes:     notes,
	}
}
