package schedule

import (
	"calagent/internal/calerr"
	"calagent/internal/model"
)

// DetectConflicts returns the events whose interval strictly overlaps
// candidate, in input order. All-day events never conflict.
func DetectConflicts(candidate model.TimeInterval, events []model.CalendarEvent) ([]model.CalendarEvent, error) {
	if candidate.IsAllDay() {
		return nil, calerr.Invalid("candidate", "conflict checks need a timed interval")
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	var out []model.CalendarEvent
	for _, ev := range events {
		if model.Conflicts(candidate, ev.Interval) {
			out = append(out, ev)
		}
	}
	return out, nil
}
