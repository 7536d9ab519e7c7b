// Package assistant composes the scheduling engine with a calendar store.
// Every call is self-contained: state a conversation needs between turns
// travels in the request and result values.
package assistant

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "calagent/internal/log"
	"calagent/internal/model"
	"calagent/internal/store"
)

// Options tunes the service. Zero values are replaced with the defaults
// the config package ships.
type Options struct {
	Location          *time.Location
	MinGap            time.Duration
	DefaultDuration   time.Duration
	MaxEventsReturned int

	// Deletion search window around now.
	Lookback         time.Duration
	Lookahead        time.Duration
	MaxSearchResults int

	Now func() time.Time
}

func (o Options) normalized() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.MinGap < 0 {
		o.MinGap = 0
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = time.Hour
	}
	if o.MaxEventsReturned <= 0 {
		o.MaxEventsReturned = 50
	}
	if o.Lookback < 0 {
		o.Lookback = 0
	}
	if o.Lookahead <= 0 {
		o.Lookahead = 30 * 24 * time.Hour
	}
	if o.MaxSearchResults <= 0 {
		o.MaxSearchResults = 100
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Service struct {
	store store.Store
	busy  []store.Reader
	opts  Options
}

// New wires the service to the writable calendar and any read-only busy
// feeds. Feeds count toward conflicts and slots but never show up in
// listings or deletion searches.
func New(s store.Store, opts Options, busy ...store.Reader) *Service {
	return &Service{store: s, busy: busy, opts: opts.normalized()}
}

func (s *Service) Location() *time.Location { return s.opts.Location }

// Now is the current time in the configured zone.
func (s *Service) Now() time.Time { return s.opts.Now().In(s.opts.Location) }

func (s *Service) DefaultDuration() time.Duration { return s.opts.DefaultDuration }

// busyEvents fetches the calendar and the busy feeds concurrently. A
// calendar failure fails the call; a feed failure is logged and the feeds
// are left out.
func (s *Service) busyEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	var own, feeds []model.CalendarEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		own, err = s.store.FetchEvents(gctx, start, end)
		return err
	})
	if len(s.busy) > 0 {
		g.Go(func() error {
			var err error
			feeds, err = store.FetchAll(gctx, start, end, s.busy...)
			if err != nil && gctx.Err() == nil {
				appLog.Warn("busy feeds unavailable; checking calendar only", "err", err)
				feeds = nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]model.CalendarEvent, 0, len(own)+len(feeds))
	all = append(all, own...)
	all = append(all, feeds...)
	store.SortEvents(all)
	return all, nil
}

// Agenda is a window of the user's calendar.
type Agenda struct {
	From      time.Time
	To        time.Time
	Events    []model.CalendarEvent
	Truncated bool
}

// ListEvents returns the calendar's events in [from, to), capped at
// MaxEventsReturned.
func (s *Service) ListEvents(ctx context.Context, from, to time.Time) (Agenda, error) {
	if err := store.ValidateWindow(from, to); err != nil {
		return Agenda{}, err
	}
	events, err := s.store.FetchEvents(ctx, from, to)
	if err != nil {
		return Agenda{}, err
	}
	a := Agenda{From: from.In(s.opts.Location), To: to.In(s.opts.Location), Events: events}
	if len(events) > s.opts.MaxEventsReturned {
		a.Events = events[:s.opts.MaxEventsReturned]
		a.Truncated = true
	}
	for i := range a.Events {
		a.Events[i].Interval = a.Events[i].Interval.In(s.opts.Location)
	}
	return a, nil
}

// DayWindow returns the local-day bounds for the dates first..last.
func (s *Service) DayWindow(first, last time.Time) (time.Time, time.Time) {
	start, _ := model.DayBounds(first.In(s.opts.Location))
	_, end := model.DayBounds(last.In(s.opts.Location))
	return start, end
}
