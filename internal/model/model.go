package model

import (
	"strings"
	"time"
)

// CalendarEvent is a request-scoped copy of an event held by the store.
// Identity is ID; the engine reads the other fields but never changes them.
type CalendarEvent struct {
	ID       string
	Title    string
	Interval TimeInterval

	Description string
	Location    string
	Attendees   []string

	// Link is the store's external URL for the event, if it has one.
	Link string
	// Recurrence is the compact rule the event was created with, if known.
	Recurrence string
}

func (e CalendarEvent) Start() time.Time { return e.Interval.Start }

func (e CalendarEvent) End() time.Time { return e.Interval.End }

func (e CalendarEvent) IsAllDay() bool { return e.Interval.IsAllDay() }

// DisplayTitle falls back to a placeholder for untitled events.
func (e CalendarEvent) DisplayTitle() string {
	if strings.TrimSpace(e.Title) == "" {
		return "Untitled Event"
	}
	return e.Title
}

// Frequency is a supported recurrence period.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// RecurrenceSpec is a validated frequency/count pair.
type RecurrenceSpec struct {
	Frequency Frequency
	Count     int
}

const instanceLayout = "20060102T150405Z"

// InstanceID names one occurrence of a series: the series UID, an
// underscore and the occurrence start in UTC.
func InstanceID(uid string, start time.Time) string {
	return uid + "_" + start.UTC().Format(instanceLayout)
}

// SplitInstanceID reverses InstanceID. ok is false for plain UIDs.
func SplitInstanceID(id string) (uid string, start time.Time, ok bool) {
	i := strings.LastIndex(id, "_")
	if i <= 0 {
		return id, time.Time{}, false
	}
	t, err := time.Parse(instanceLayout, id[i+1:])
	if err != nil {
		return id, time.Time{}, false
	}
	return id[:i], t, true
}
