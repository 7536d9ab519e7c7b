package assistant

import (
	"context"
	"strings"
	"time"

	"calagent/internal/calerr"
	appLog "calagent/internal/log"
	"calagent/internal/model"
	"calagent/internal/schedule"
)

// Outcome is the result class of CreateEvent. Conflict and NoSlot are
// normal answers that need another round trip with the user.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeConflict Outcome = "conflict"
	OutcomeNoSlot   Outcome = "no_slot"
)

// Flexible asks the service to place the event in the first free slot.
type Flexible struct {
	Duration time.Duration
	From     time.Time
	Until    time.Time
}

// CreateRequest describes a new event. Exactly one of Fixed or Flexible
// must be set. Frequency and Count are the raw recurrence pair.
type CreateRequest struct {
	Title       string
	Description string
	Location    string
	Attendees   []string

	Fixed    *model.TimeInterval
	Flexible *Flexible

	Frequency string
	Count     *int

	// AllowConflicts creates a fixed event even when it overlaps others.
	AllowConflicts bool
}

type CreateResult struct {
	Outcome Outcome

	// Event is the stored event on OutcomeCreated, or the proposed one.
	Event     model.CalendarEvent
	Conflicts []model.CalendarEvent
	Rule      string

	// Occurrences previews the series; a single entry when not recurring.
	Occurrences []model.TimeInterval
}

func (r CreateRequest) validate() (*model.RecurrenceSpec, error) {
	if strings.TrimSpace(r.Title) == "" {
		return nil, calerr.Invalid("title", "event title cannot be empty")
	}
	switch {
	case r.Fixed != nil && r.Flexible != nil:
		return nil, calerr.Misconfigured("time", "give either a fixed time or a flexible window, not both")
	case r.Fixed == nil && r.Flexible == nil:
		return nil, calerr.Misconfigured("time", "a fixed time or a flexible window is required")
	}
	if r.Fixed != nil {
		if err := r.Fixed.Validate(); err != nil {
			return nil, err
		}
	}
	return schedule.ParseRecurrence(r.Frequency, r.Count)
}

// CreateEvent validates the request, checks it against the calendar and
// inserts it. Nothing is written unless the outcome is OutcomeCreated.
func (s *Service) CreateEvent(ctx context.Context, req CreateRequest) (CreateResult, error) {
	spec, err := req.validate()
	if err != nil {
		return CreateResult{}, err
	}

	ev := model.CalendarEvent{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Location:    req.Location,
		Attendees:   cleanAttendees(req.Attendees),
	}

	if req.Fixed != nil {
		ev.Interval = *req.Fixed
		if !ev.IsAllDay() {
			conflicts, err := s.CheckConflicts(ctx, ev.Interval)
			if err != nil {
				return CreateResult{}, err
			}
			if len(conflicts) > 0 && !req.AllowConflicts {
				appLog.Info("create held for conflicts", "title", ev.Title, "conflicts", len(conflicts))
				return CreateResult{Outcome: OutcomeConflict, Event: ev, Conflicts: conflicts}, nil
			}
			if len(conflicts) > 0 {
				appLog.Warn("creating over conflicts", "title", ev.Title, "conflicts", len(conflicts))
			}
		}
	} else {
		f := req.Flexible
		slot, err := s.FindSlot(ctx, SlotQuery{Duration: f.Duration, From: f.From, Until: f.Until})
		if err != nil {
			return CreateResult{}, err
		}
		if !slot.Found {
			return CreateResult{Outcome: OutcomeNoSlot, Event: ev}, nil
		}
		ev.Interval = slot.Slot
	}

	var rule string
	occurrences := []model.TimeInterval{ev.Interval}
	if spec != nil {
		if rule, err = schedule.Rule(ev.Interval.Start, *spec); err != nil {
			return CreateResult{}, err
		}
		if occurrences, err = schedule.Expand(ev.Interval, *spec); err != nil {
			return CreateResult{}, err
		}
	}

	ins, err := s.store.InsertEvent(ctx, ev, rule)
	if err != nil {
		return CreateResult{}, err
	}
	ev.ID, ev.Link, ev.Recurrence = ins.ID, ins.Link, rule
	ev.Interval = ev.Interval.In(s.opts.Location)
	for i := range occurrences {
		occurrences[i] = occurrences[i].In(s.opts.Location)
	}

	appLog.Info("event created", "id", ev.ID, "title", ev.Title, "start", ev.Start(), "rule", rule)
	return CreateResult{Outcome: OutcomeCreated, Event: ev, Rule: rule, Occurrences: occurrences}, nil
}

func cleanAttendees(in []string) []string {
	var out []string
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// CheckConflicts fetches the local days the candidate touches, plus busy
// feeds, and reports the overlapping timed events.
func (s *Service) CheckConflicts(ctx context.Context, candidate model.TimeInterval) ([]model.CalendarEvent, error) {
	if candidate.IsAllDay() {
		return nil, calerr.Invalid("candidate", "conflict checks need a timed interval")
	}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	from, to := s.DayWindow(candidate.Start, candidate.End.Add(-time.Nanosecond))
	events, err := s.busyEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return schedule.DetectConflicts(candidate, events)
}

// SlotQuery is a FindSlot request. A zero Duration means the default event
// length; a nil MinGap means the configured gap.
type SlotQuery struct {
	Duration time.Duration
	From     time.Time
	Until    time.Time
	MinGap   *time.Duration
}

func (s *Service) FindSlot(ctx context.Context, q SlotQuery) (schedule.SlotResult, error) {
	req := schedule.SlotRequest{Duration: q.Duration, From: q.From, Until: q.Until, MinGap: s.opts.MinGap}
	if req.Duration == 0 {
		req.Duration = s.opts.DefaultDuration
	}
	if q.MinGap != nil {
		req.MinGap = *q.MinGap
	}
	// Validate before touching the store.
	if _, err := schedule.FindSlot(req, nil); err != nil {
		return schedule.SlotResult{}, err
	}

	events, err := s.busyEvents(ctx, req.From.Add(-req.MinGap), req.Until.Add(req.MinGap))
	if err != nil {
		return schedule.SlotResult{}, err
	}
	res, err := schedule.FindSlot(req, events)
	if err != nil {
		return schedule.SlotResult{}, err
	}
	if res.Found {
		res.Slot = res.Slot.In(s.opts.Location)
	}
	return res, nil
}

// PreviewRecurrence expands a series without touching the store.
func (s *Service) PreviewRecurrence(base model.TimeInterval, frequency string, count *int) ([]model.TimeInterval, string, error) {
	spec, err := schedule.ParseRecurrence(frequency, count)
	if err != nil {
		return nil, "", err
	}
	if spec == nil {
		if err := base.Validate(); err != nil {
			return nil, "", err
		}
		return []model.TimeInterval{base}, "", nil
	}
	occ, err := schedule.Expand(base, *spec)
	if err != nil {
		return nil, "", err
	}
	rule, err := schedule.Rule(base.Start, *spec)
	if err != nil {
		return nil, "", err
	}
	return occ, rule, nil
}
