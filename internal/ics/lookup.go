package ics

import (
	"time"

	"calagent/internal/model"
)

// FromEvent converts a domain event into a master VEVENT with the given UID.
func FromEvent(ev model.CalendarEvent, uid, rule string) ParsedEvent {
	out := ParsedEvent{
		UID:         uid,
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		URL:         ev.Link,
		Start:       ev.Interval.Start,
		End:         ev.Interval.End,
		AllDay:      ev.Interval.IsAllDay(),
		RawRRule:    rule,
	}
	if len(ev.Attendees) > 0 {
		out.Attendees = append([]string(nil), ev.Attendees...)
	}
	return out
}

// Lookup resolves a UID or a model.InstanceID against a parsed calendar. A bare
// UID of a series resolves to its first occurrence.
func Lookup(events []ParsedEvent, id string, loc *time.Location) (model.CalendarEvent, bool) {
	if loc == nil {
		loc = time.Local
	}

	uid, start, isInstance := model.SplitInstanceID(id)
	if !isInstance {
		for _, ev := range events {
			if ev.UID == id && !ev.IsOverride() {
				out := ev.toEvent(id, ev.Start, ev.End, loc)
				out.Recurrence = ev.RawRRule
				return out, true
			}
		}
		return model.CalendarEvent{}, false
	}

	var master *ParsedEvent
	for i := range events {
		ev := events[i]
		if ev.UID != uid {
			continue
		}
		if ev.IsOverride() {
			if ev.Recurrence.Equal(start) {
				out := ev.toEvent(id, ev.Start, ev.End, loc)
				out.Recurrence = masterRule(events, uid)
				return out, true
			}
			continue
		}
		master = &events[i]
	}
	if master == nil || master.RawRRule == "" {
		return model.CalendarEvent{}, false
	}

	occ, err := Occurrences([]ParsedEvent{*master}, ExpandConfig{Location: loc, RangeStart: start, RangeEnd: start.Add(time.Second)})
	if err != nil {
		return model.CalendarEvent{}, false
	}
	for _, ev := range occ {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.CalendarEvent{}, false
}

func masterRule(events []ParsedEvent, uid string) string {
	for _, ev := range events {
		if ev.UID == uid && !ev.IsOverride() {
			return ev.RawRRule
		}
	}
	return ""
}
