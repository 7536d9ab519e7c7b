package model

import (
	"time"

	"calagent/internal/calerr"
)

// Kind tags an interval as timed or all-day.
type Kind int

const (
	Timed Kind = iota
	AllDay
)

func (k Kind) String() string {
	if k == AllDay {
		return "all_day"
	}
	return "timed"
}

// TimeInterval is a half-open range [Start, End).
//
// All-day intervals have Start and End at local midnight; End is the first
// day after the last covered day.
type TimeInterval struct {
	Start time.Time
	End   time.Time
	Kind  Kind
}

// NewTimed builds a timed interval. end must be strictly after start.
func NewTimed(start, end time.Time) (TimeInterval, error) {
	iv := TimeInterval{Start: start, End: end, Kind: Timed}
	if err := iv.Validate(); err != nil {
		return TimeInterval{}, err
	}
	return iv, nil
}

// NewTimedFor builds a timed interval of the given duration.
func NewTimedFor(start time.Time, d time.Duration) (TimeInterval, error) {
	if d <= 0 {
		return TimeInterval{}, calerr.Invalid("duration", "must be positive, got %s", d)
	}
	return NewTimed(start, start.Add(d))
}

// NewAllDay builds an all-day interval covering first up to (not including)
// endExclusive. Clock components are dropped in each value's own location.
func NewAllDay(first, endExclusive time.Time) (TimeInterval, error) {
	iv := TimeInterval{Start: midnight(first), End: midnight(endExclusive), Kind: AllDay}
	if err := iv.Validate(); err != nil {
		return TimeInterval{}, err
	}
	return iv, nil
}

// SingleDay is a one-day all-day interval.
func SingleDay(day time.Time) TimeInterval {
	start := midnight(day)
	return TimeInterval{Start: start, End: start.AddDate(0, 0, 1), Kind: AllDay}
}

func (iv TimeInterval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return calerr.Invalid("interval", "start and end are required")
	}
	if !iv.End.After(iv.Start) {
		return calerr.Invalid("interval", "end %s must be after start %s",
			iv.End.Format(time.RFC3339), iv.Start.Format(time.RFC3339))
	}
	return nil
}

func (iv TimeInterval) IsAllDay() bool { return iv.Kind == AllDay }

func (iv TimeInterval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// In converts both endpoints to loc. All-day intervals keep their calendar
// dates rather than shifting with the offset.
func (iv TimeInterval) In(loc *time.Location) TimeInterval {
	if iv.Kind == AllDay {
		return TimeInterval{
			Start: time.Date(iv.Start.Year(), iv.Start.Month(), iv.Start.Day(), 0, 0, 0, 0, loc),
			End:   time.Date(iv.End.Year(), iv.End.Month(), iv.End.Day(), 0, 0, 0, 0, loc),
			Kind:  AllDay,
		}
	}
	return TimeInterval{Start: iv.Start.In(loc), End: iv.End.In(loc), Kind: Timed}
}

// Overlaps reports a strict overlap. Touching endpoints do not overlap.
func Overlaps(a, b TimeInterval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Adjacent reports back-to-back intervals.
func Adjacent(a, b TimeInterval) bool {
	return a.End.Equal(b.Start) || b.End.Equal(a.Start)
}

// Conflicts is Overlaps with all-day intervals excluded on either side.
func Conflicts(a, b TimeInterval) bool {
	if a.IsAllDay() || b.IsAllDay() {
		return false
	}
	return Overlaps(a, b)
}

// DayBounds returns [local midnight, next local midnight) around t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := midnight(t)
	return start, start.AddDate(0, 0, 1)
}

func midnight(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
