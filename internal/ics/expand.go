package ics

import (
	"errors"
	"sort"
	"time"

	appLog "calagent/internal/log"
	"calagent/internal/model"
	"calagent/internal/schedule"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls how a parsed calendar is turned into concrete
// events for one window.
type ExpandConfig struct {
	// Location all returned intervals are converted to. nil means time.Local.
	Location *time.Location

	// [RangeStart, RangeEnd) is the window; events touching it only at an
	// endpoint are excluded.
	RangeStart time.Time
	RangeEnd   time.Time

	MaxOccurrencesPerEvent int
}

// Occurrences expands masters and their overrides into the events that
// intersect the configured window, ordered by start. Instances of a series
// get an id from model.InstanceID; single events keep their UID.
func Occurrences(events []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd must be after RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	masters := make([]ParsedEvent, 0, len(events))
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		masters = append(masters, ev)
	}

	var out []model.CalendarEvent
	for _, ev := range masters {
		if ev.RawRRule == "" {
			if intersects(ev.Start, ev.End, cfg) {
				out = append(out, ev.toEvent(ev.UID, ev.Start, ev.End, cfg.Location))
			}
			continue
		}

		starts, capped := seriesStarts(ev, cfg)
		if capped {
			appLog.Warn("expand: truncated occurrences", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
		length := ev.End.Sub(ev.Start)
		days := calendarDays(ev.Start, ev.End)
		for _, s := range starts {
			end := s.Add(length)
			if ev.AllDay {
				end = s.AddDate(0, 0, days)
			}
			inst := ev
			id := model.InstanceID(ev.UID, s)
			if o, ok := findOverride(overrides[ev.UID], s); ok {
				inst, s, end = o, o.Start, o.End
			}
			if !intersects(s, end, cfg) {
				continue
			}
			e := inst.toEvent(id, s, end, cfg.Location)
			e.Recurrence = ev.RawRRule
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out, nil
}

// seriesStarts lists the starts of a series that can intersect the window.
func seriesStarts(ev ParsedEvent, cfg ExpandConfig) ([]time.Time, bool) {
	length := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.Add(-length)

	set, err := schedule.RuleSet(ev.RawRRule, ev.Start, ev.ExDates...)
	if err != nil {
		appLog.Error("expand: invalid RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	loc := ev.Start.Location()
	var starts []time.Time
	for _, s := range set.Between(from.In(loc), cfg.RangeEnd.In(loc), true) {
		if s.Before(cfg.RangeEnd) && s.Add(length).After(cfg.RangeStart) {
			starts = append(starts, s)
		}
	}

	if len(starts) > cfg.MaxOccurrencesPerEvent {
		return starts[:cfg.MaxOccurrencesPerEvent], true
	}
	return starts, false
}

// findOverride finds the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func intersects(start, end time.Time, cfg ExpandConfig) bool {
	return start.Before(cfg.RangeEnd) && end.After(cfg.RangeStart)
}

func calendarDays(start, end time.Time) int {
	days := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days++
	}
	if days == 0 {
		days = 1
	}
	return days
}

func (ev ParsedEvent) toEvent(id string, start, end time.Time, loc *time.Location) model.CalendarEvent {
	out := model.CalendarEvent{
		ID:          id,
		Title:       ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Link:        ev.URL,
	}
	if len(ev.Attendees) > 0 {
		out.Attendees = append([]string(nil), ev.Attendees...)
	}
	if ev.AllDay {
		// Dates stay on the calendar day they were written for.
		s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
		out.Interval = model.TimeInterval{Start: s, End: e, Kind: model.AllDay}
		return out
	}
	out.Interval = model.TimeInterval{Start: start.In(loc), End: end.In(loc), Kind: model.Timed}
	return out
}
