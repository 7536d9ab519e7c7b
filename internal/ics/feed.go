package ics

import (
	"context"
	"time"

	"calagent/internal/calerr"
	"calagent/internal/model"
)

// Feed exposes a Subscription as a read-only event source. Its events only
// ever count as busy time; they are never offered for deletion.
type Feed struct {
	sub     Subscription
	fetcher *Fetcher
	loc     *time.Location
}

func NewFeed(sub Subscription, fetcher *Fetcher, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.Local
	}
	return &Feed{sub: sub, fetcher: fetcher, loc: loc}
}

func (f *Feed) Name() string { return f.sub.Name }

func (f *Feed) FetchEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	body, _, err := f.fetcher.Fetch(ctx, f.sub)
	if err != nil {
		return nil, &calerr.StoreError{Op: "fetch " + f.sub.Name, Start: start, End: end, Kind: calerr.ErrStoreUnavailable, Err: err}
	}
	parsed, err := Parse(body, f.loc)
	if err != nil {
		return nil, &calerr.StoreError{Op: "parse " + f.sub.Name, Kind: calerr.ErrStoreValidation, Err: err}
	}
	events, err := Occurrences(parsed, ExpandConfig{Location: f.loc, RangeStart: start, RangeEnd: end})
	if err != nil {
		return nil, calerr.Invalid("window", "%v", err)
	}
	for i := range events {
		events[i].ID = f.sub.Name + ":" + events[i].ID
	}
	return events, nil
}
