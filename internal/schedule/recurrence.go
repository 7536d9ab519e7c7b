package schedule

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"calagent/internal/calerr"
	"calagent/internal/model"
)

// ParseRecurrence turns an optional frequency/count pair into a spec.
// Both absent means no recurrence. Supplying exactly one of the two is a
// configuration error; it never falls back to a default count.
func ParseRecurrence(frequency string, count *int) (*model.RecurrenceSpec, error) {
	frequency = strings.ToLower(strings.TrimSpace(frequency))
	switch {
	case frequency == "" && count == nil:
		return nil, nil
	case frequency != "" && count == nil:
		return nil, calerr.Misconfigured("recurrence", "count is required when frequency is set")
	case frequency == "" && count != nil:
		return nil, calerr.Misconfigured("recurrence", "frequency is required when count is set")
	}

	spec := model.RecurrenceSpec{Frequency: model.Frequency(frequency), Count: *count}
	if err := ValidateRecurrence(spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func ValidateRecurrence(spec model.RecurrenceSpec) error {
	switch spec.Frequency {
	case model.Daily, model.Weekly, model.Monthly:
	default:
		return calerr.Invalid("frequency", "must be daily, weekly or monthly, got %q", string(spec.Frequency))
	}
	if spec.Count < 1 {
		return calerr.Invalid("count", "must be at least 1, got %d", spec.Count)
	}
	return nil
}

// Sequence yields the occurrences of a recurring interval one at a time.
// It is finite, holds no materialized slice, and can be restarted.
type Sequence struct {
	base model.TimeInterval
	spec model.RecurrenceSpec
	days int
	next int
}

func NewSequence(base model.TimeInterval, spec model.RecurrenceSpec) (*Sequence, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateRecurrence(spec); err != nil {
		return nil, err
	}
	s := &Sequence{base: base, spec: spec}
	if base.IsAllDay() {
		s.days = calendarDays(base.Start, base.End)
	}
	return s, nil
}

func (s *Sequence) Len() int { return s.spec.Count }

// Next returns the next occurrence, or false once Count have been produced.
func (s *Sequence) Next() (model.TimeInterval, bool) {
	if s.next >= s.spec.Count {
		return model.TimeInterval{}, false
	}
	iv := s.At(s.next)
	s.next++
	return iv, true
}

func (s *Sequence) Reset() { s.next = 0 }

// At returns occurrence k (zero based). Occurrence 0 is the base interval.
func (s *Sequence) At(k int) model.TimeInterval {
	start := shift(s.base.Start, s.spec.Frequency, k)
	if s.base.IsAllDay() {
		return model.TimeInterval{Start: start, End: start.AddDate(0, 0, s.days), Kind: model.AllDay}
	}
	return model.TimeInterval{Start: start, End: start.Add(s.base.Duration()), Kind: model.Timed}
}

// Expand materializes every occurrence.
func Expand(base model.TimeInterval, spec model.RecurrenceSpec) ([]model.TimeInterval, error) {
	seq, err := NewSequence(base, spec)
	if err != nil {
		return nil, err
	}
	out := make([]model.TimeInterval, 0, seq.Len())
	for iv, ok := seq.Next(); ok; iv, ok = seq.Next() {
		out = append(out, iv)
	}
	return out, nil
}

func shift(t time.Time, f model.Frequency, k int) time.Time {
	switch f {
	case model.Daily:
		return t.AddDate(0, 0, k)
	case model.Weekly:
		return t.AddDate(0, 0, 7*k)
	default:
		return addMonthsClamped(t, k)
	}
}

// addMonthsClamped moves t forward k calendar months, clamping the day to
// the last day of the target month (Jan 31 + 1 month = Feb 28 or 29).
func addMonthsClamped(t time.Time, k int) time.Time {
	months := int(t.Month()) - 1 + k
	year := t.Year() + months/12
	month := time.Month(months%12 + 1)

	day := t.Day()
	if last := daysIn(year, month, t.Location()); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func calendarDays(start, end time.Time) int {
	days := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

var toRRule = map[model.Frequency]rrule.Frequency{
	model.Daily:   rrule.DAILY,
	model.Weekly:  rrule.WEEKLY,
	model.Monthly: rrule.MONTHLY,
}

// Rule renders the compact form a store accepts instead of individual
// occurrences, e.g. FREQ=WEEKLY;COUNT=10. A monthly series starting after
// the 28th picks the last existing day up to the start day, so short months
// get the clamped date Expand produces instead of being skipped.
func Rule(start time.Time, spec model.RecurrenceSpec) (string, error) {
	if err := ValidateRecurrence(spec); err != nil {
		return "", err
	}
	opt := rrule.ROption{Freq: toRRule[spec.Frequency], Count: spec.Count}
	if spec.Frequency == model.Monthly && start.Day() > 28 {
		for d := 28; d <= start.Day(); d++ {
			opt.Bymonthday = append(opt.Bymonthday, d)
		}
		opt.Bysetpos = []int{-1}
	}
	return opt.RRuleString(), nil
}

// RuleSet anchors a stored rule at dtstart and drops the exdates. The set
// follows RFC 5545, so foreign rules expand the way their calendar does.
func RuleSet(rule string, dtstart time.Time, exdates ...time.Time) (*rrule.Set, error) {
	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	opt, err := rrule.StrToROptionInLocation(rule, dtstart.Location())
	if err != nil {
		return nil, calerr.Invalid("recurrence", "unparseable rule %q: %v", rule, err)
	}
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, calerr.Invalid("recurrence", "invalid rule %q: %v", rule, err)
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex.In(dtstart.Location()))
	}
	return set, nil
}
