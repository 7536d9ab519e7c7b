package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"calagent/internal/model"
	"calagent/internal/schedule"
)

// Memory is an in-process Store used for dry runs and tests. Events with a
// Recurrence rule are series: reads expand them into instances named by
// model.InstanceID, and deleting an instance only excludes that date.
type Memory struct {
	mu      sync.Mutex
	order   []string
	events  map[string]model.CalendarEvent
	exdates map[string][]time.Time
}

func NewMemory(events ...model.CalendarEvent) *Memory {
	m := &Memory{events: make(map[string]model.CalendarEvent), exdates: make(map[string][]time.Time)}
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		m.put(ev)
	}
	return m
}

func (m *Memory) put(ev model.CalendarEvent) {
	if _, exists := m.events[ev.ID]; !exists {
		m.order = append(m.order, ev.ID)
	}
	m.events[ev.ID] = cloneEvent(ev)
}

func (m *Memory) FetchEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateWindow(start, end); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.CalendarEvent, 0, len(m.order))
	for _, id := range m.order {
		ev := m.events[id]
		if ev.Recurrence == "" {
			if intersects(ev.Interval, start, end) {
				out = append(out, cloneEvent(ev))
			}
			continue
		}
		instances, err := m.instances(ev, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, instances...)
	}
	SortEvents(out)
	return out, nil
}

// instances expands a series into the occurrences touching [start, end).
func (m *Memory) instances(ev model.CalendarEvent, start, end time.Time) ([]model.CalendarEvent, error) {
	set, err := schedule.RuleSet(ev.Recurrence, ev.Interval.Start, m.exdates[ev.ID]...)
	if err != nil {
		return nil, err
	}
	loc := ev.Interval.Start.Location()
	from := start.Add(-ev.Interval.Duration())

	var out []model.CalendarEvent
	for _, s := range set.Between(from.In(loc), end.In(loc), true) {
		inst := instanceAt(ev, s)
		if intersects(inst.Interval, start, end) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func instanceAt(ev model.CalendarEvent, s time.Time) model.CalendarEvent {
	inst := cloneEvent(ev)
	inst.ID = model.InstanceID(ev.ID, s)
	if ev.Interval.IsAllDay() {
		days := 0
		for d := ev.Interval.Start; d.Before(ev.Interval.End); d = d.AddDate(0, 0, 1) {
			days++
		}
		inst.Interval = model.TimeInterval{Start: s, End: s.AddDate(0, 0, days), Kind: model.AllDay}
	} else {
		inst.Interval = model.TimeInterval{Start: s, End: s.Add(ev.Interval.Duration()), Kind: model.Timed}
	}
	return inst
}

// lookupInstance finds the series occurrence that starts at start.
func (m *Memory) lookupInstance(seriesID string, start time.Time) (model.CalendarEvent, bool) {
	ev, ok := m.events[seriesID]
	if !ok || ev.Recurrence == "" {
		return model.CalendarEvent{}, false
	}
	set, err := schedule.RuleSet(ev.Recurrence, ev.Interval.Start, m.exdates[seriesID]...)
	if err != nil {
		return model.CalendarEvent{}, false
	}
	loc := ev.Interval.Start.Location()
	for _, s := range set.Between(start.In(loc), start.In(loc), true) {
		if s.Equal(start) {
			return instanceAt(ev, s), true
		}
	}
	return model.CalendarEvent{}, false
}

func (m *Memory) InsertEvent(ctx context.Context, ev model.CalendarEvent, rule string) (Inserted, error) {
	if err := ctx.Err(); err != nil {
		return Inserted{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = uuid.NewString()
	ev.Recurrence = rule
	ev.Link = "memory://events/" + ev.ID
	m.put(ev)
	return Inserted{ID: ev.ID, Link: ev.Link}, nil
}

func (m *Memory) GetEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.CalendarEvent{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev, ok := m.events[id]; ok {
		return cloneEvent(ev), nil
	}
	if seriesID, start, ok := model.SplitInstanceID(id); ok {
		if inst, ok := m.lookupInstance(seriesID, start); ok {
			return inst, nil
		}
	}
	return model.CalendarEvent{}, NotFound("get", id)
}

func (m *Memory) DeleteEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		seriesID, start, isInstance := model.SplitInstanceID(id)
		if !isInstance {
			return NotFound("delete", id)
		}
		if _, found := m.lookupInstance(seriesID, start); !found {
			return NotFound("delete", id)
		}
		m.exdates[seriesID] = append(m.exdates[seriesID], start)
		return nil
	}
	delete(m.events, id)
	delete(m.exdates, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len reports how many events are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
