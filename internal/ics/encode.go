package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"
)

const ProductID = "-//calagent//calendar store//EN"

// Encode renders events back into a VCALENDAR. Overrides are written after
// their master so a reader sees the series first.
func Encode(events []ParsedEvent, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)

	for _, ev := range events {
		if !ev.IsOverride() {
			addVEvent(cal, ev, stamp)
		}
	}
	for _, ev := range events {
		if ev.IsOverride() {
			addVEvent(cal, ev, stamp)
		}
	}
	return cal.Serialize()
}

func addVEvent(cal *ical.Calendar, ev ParsedEvent, stamp time.Time) {
	ve := cal.AddEvent(ev.UID)
	ve.SetDtStampTime(stamp)

	if ev.AllDay {
		ve.SetAllDayStartAt(ev.Start)
		ve.SetAllDayEndAt(ev.End)
	} else {
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
	}

	if ev.Summary != "" {
		ve.SetSummary(ev.Summary)
	}
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.URL != "" {
		ve.SetURL(ev.URL)
	}
	for _, a := range ev.Attendees {
		ve.AddAttendee(a)
	}

	if ev.RawRRule != "" {
		ve.SetProperty(ical.ComponentPropertyRrule, ev.RawRRule)
	}
	for _, ex := range ev.ExDates {
		ve.AddProperty(ical.ComponentPropertyExdate, formatICSTime(ex, ev.AllDay))
	}
	if ev.Recurrence != nil {
		ve.AddProperty("RECURRENCE-ID", formatICSTime(*ev.Recurrence, ev.AllDay))
	}
}

func formatICSTime(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("20060102")
	}
	return t.UTC().Format("20060102T150405Z")
}
