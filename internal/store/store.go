// Package store is the boundary to the remote calendar. Everything above it
// works on the copies these calls return.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"calagent/internal/calerr"
	"calagent/internal/model"
)

// Reader is the read side of a calendar: both the writable store and
// read-only busy feeds implement it.
type Reader interface {
	// FetchEvents returns events intersecting [start, end) ordered by start.
	FetchEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error)
}

// Store is the full adapter contract. Every call is a blocking unit of work
// that either completed or did not.
type Store interface {
	Reader
	// InsertEvent creates ev. rule is a compact RRULE body or "".
	InsertEvent(ctx context.Context, ev model.CalendarEvent, rule string) (Inserted, error)
	GetEvent(ctx context.Context, id string) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Inserted is what the store assigns on creation.
type Inserted struct {
	ID   string
	Link string
}

// SortEvents orders events by start, keeping the store's order on ties.
func SortEvents(events []model.CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Interval.Start.Before(events[j].Interval.Start)
	})
}

// FetchAll fetches the same window from every reader and merges the results
// by start time. The first failing reader aborts the merge.
func FetchAll(ctx context.Context, start, end time.Time, readers ...Reader) ([]model.CalendarEvent, error) {
	var out []model.CalendarEvent
	for _, r := range readers {
		if r == nil {
			continue
		}
		events, err := r.FetchEvents(ctx, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	SortEvents(out)
	return out, nil
}

// NotFound builds the error every adapter returns for a missing id.
func NotFound(op, id string) error {
	return &calerr.StoreError{Op: op, ID: id, Kind: calerr.ErrNotFound}
}

// Unavailable wraps a transport failure.
func Unavailable(op string, err error) error {
	return &calerr.StoreError{Op: op, Kind: calerr.ErrStoreUnavailable, Err: err}
}

// ValidateWindow rejects empty or inverted fetch windows.
func ValidateWindow(start, end time.Time) error {
	if !end.After(start) {
		return calerr.Invalid("window", "end %s must be after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

func intersects(iv model.TimeInterval, start, end time.Time) bool {
	return iv.Start.Before(end) && iv.End.After(start)
}

func cloneEvents(in []model.CalendarEvent) []model.CalendarEvent {
	if in == nil {
		return nil
	}
	out := make([]model.CalendarEvent, len(in))
	for i, ev := range in {
		out[i] = cloneEvent(ev)
	}
	return out
}

func cloneEvent(ev model.CalendarEvent) model.CalendarEvent {
	if ev.Attendees != nil {
		ev.Attendees = append([]string(nil), ev.Attendees...)
	}
	return ev
}

func windowKey(start, end time.Time) string {
	return fmt.Sprintf("%d|%d", start.UnixNano(), end.UnixNano())
}
