package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	appLog "calagent/internal/log"
	"calagent/internal/model"
)

// Cached keeps recent fetch windows in an expiring LRU. A window that lies
// inside a cached one is answered from it. Any successful write purges the
// whole cache since a new or removed event can fall into any cached window.
type Cached struct {
	next   Store
	events *expirable.LRU[string, cachedWindow]
}

type cachedWindow struct {
	start, end time.Time
	events     []model.CalendarEvent
}

func (w cachedWindow) covers(start, end time.Time) bool {
	return !w.end.IsZero() && !start.Before(w.start) && !end.After(w.end)
}

func WithCache(next Store, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 64
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{
		next:   next,
		events: expirable.NewLRU[string, cachedWindow](size, nil, ttl),
	}
}

func (c *Cached) FetchEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	key := windowKey(start, end)
	if hit, ok := c.events.Get(key); ok {
		appLog.Debug("store cache hit", "start", start, "end", end, "count", len(hit.events))
		return cloneEvents(hit.events), nil
	}
	if err := ValidateWindow(start, end); err != nil {
		return nil, err
	}
	for _, w := range c.events.Values() {
		if !w.covers(start, end) {
			continue
		}
		out := make([]model.CalendarEvent, 0, len(w.events))
		for _, ev := range w.events {
			if intersects(ev.Interval, start, end) {
				out = append(out, cloneEvent(ev))
			}
		}
		appLog.Debug("store cache hit", "start", start, "end", end, "count", len(out), "within", windowKey(w.start, w.end))
		return out, nil
	}

	events, err := c.next.FetchEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	c.events.Add(key, cachedWindow{start: start, end: end, events: cloneEvents(events)})
	return events, nil
}

func (c *Cached) InsertEvent(ctx context.Context, ev model.CalendarEvent, rule string) (Inserted, error) {
	out, err := c.next.InsertEvent(ctx, ev, rule)
	if err == nil {
		c.events.Purge()
	}
	return out, err
}

func (c *Cached) GetEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	return c.next.GetEvent(ctx, id)
}

func (c *Cached) DeleteEvent(ctx context.Context, id string) error {
	err := c.next.DeleteEvent(ctx, id)
	if err == nil {
		c.events.Purge()
	}
	return err
}

// Len is the number of cached windows.
func (c *Cached) Len() int { return c.events.Len() }
