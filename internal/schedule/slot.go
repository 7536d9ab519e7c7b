package schedule

import (
	"sort"
	"time"

	"calagent/internal/calerr"
	"calagent/internal/model"
)

// SlotRequest asks for the earliest free interval of Duration inside
// [From, Until), keeping MinGap clear on both sides of every busy event.
type SlotRequest struct {
	Duration time.Duration
	From     time.Time
	Until    time.Time
	MinGap   time.Duration
}

// SlotResult is a negative result when Found is false; that is not an error.
type SlotResult struct {
	Found bool
	Slot  model.TimeInterval
}

func (r SlotRequest) validate() error {
	if r.Duration <= 0 {
		return calerr.Invalid("duration", "must be positive, got %s", r.Duration)
	}
	if r.MinGap < 0 {
		return calerr.Invalid("min_gap", "must not be negative, got %s", r.MinGap)
	}
	if r.From.IsZero() || r.Until.IsZero() {
		return calerr.Invalid("window", "from and until are required")
	}
	if !r.Until.After(r.From) {
		return calerr.Invalid("window", "until %s must be after from %s",
			r.Until.Format(time.RFC3339), r.From.Format(time.RFC3339))
	}
	return nil
}

// FindSlot walks the busy timeline from req.From and returns the first gap
// that fits. The cursor always sits at the latest busy end seen so far (plus
// the gap), so an interval nested inside an earlier, longer one can never
// open a false gap.
func FindSlot(req SlotRequest, events []model.CalendarEvent) (SlotResult, error) {
	if err := req.validate(); err != nil {
		return SlotResult{}, err
	}

	cursor := req.From
	for _, b := range busyIntervals(req, events) {
		if !b.Start.Add(-req.MinGap).Before(cursor.Add(req.Duration)) {
			break
		}
		if end := b.End.Add(req.MinGap); end.After(cursor) {
			cursor = end
		}
	}

	end := cursor.Add(req.Duration)
	if end.After(req.Until) {
		return SlotResult{}, nil
	}
	return SlotResult{
		Found: true,
		Slot:  model.TimeInterval{Start: cursor, End: end, Kind: model.Timed},
	}, nil
}

// busyIntervals returns the timed intervals that can affect the window,
// sorted by start with shorter intervals first on ties.
func busyIntervals(req SlotRequest, events []model.CalendarEvent) []model.TimeInterval {
	busy := make([]model.TimeInterval, 0, len(events))
	for _, ev := range events {
		iv := ev.Interval
		if iv.IsAllDay() || !iv.End.After(iv.Start) {
			continue
		}
		if !iv.End.Add(req.MinGap).After(req.From) || !iv.Start.Add(-req.MinGap).Before(req.Until) {
			continue
		}
		busy = append(busy, iv)
	}

	sort.SliceStable(busy, func(i, j int) bool {
		if !busy[i].Start.Equal(busy[j].Start) {
			return busy[i].Start.Before(busy[j].Start)
		}
		return busy[i].Duration() < busy[j].Duration()
	})
	return busy
}
