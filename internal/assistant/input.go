package assistant

import (
	"strings"
	"time"

	"calagent/internal/calerr"
	"calagent/internal/model"
)

// IntervalInput is a user-supplied time: either Start with End or
// Duration, or an all-day Date with an optional inclusive EndDate.
// Values are strings in InputLayout and the date layout.
type IntervalInput struct {
	Start    string
	End      string
	Duration time.Duration
	Date     string
	EndDate  string
}

func (in IntervalInput) IsZero() bool {
	return in == IntervalInput{}
}

// ResolveInterval reads in using the service zone. A timed input with
// neither End nor Duration gets the default event length.
func (s *Service) ResolveInterval(in IntervalInput) (model.TimeInterval, error) {
	loc := s.opts.Location
	if in.Date != "" || in.EndDate != "" {
		if in.Start != "" || in.End != "" || in.Duration != 0 {
			return model.TimeInterval{}, calerr.Misconfigured("time", "use either start/end or date/end_date, not both")
		}
		first, err := ParseDate(in.Date, loc)
		if err != nil {
			return model.TimeInterval{}, err
		}
		last := first
		if in.EndDate != "" {
			if last, err = ParseDate(in.EndDate, loc); err != nil {
				return model.TimeInterval{}, err
			}
		}
		return model.NewAllDay(first, last.AddDate(0, 0, 1))
	}

	if strings.TrimSpace(in.Start) == "" {
		return model.TimeInterval{}, calerr.Invalid("start", "is required")
	}
	start, err := ParseLocal(in.Start, loc)
	if err != nil {
		return model.TimeInterval{}, err
	}
	if in.End != "" {
		if in.Duration != 0 {
			return model.TimeInterval{}, calerr.Misconfigured("time", "use either end or duration, not both")
		}
		end, err := ParseLocal(in.End, loc)
		if err != nil {
			return model.TimeInterval{}, err
		}
		return model.NewTimed(start, end)
	}
	d := in.Duration
	if d == 0 {
		d = s.opts.DefaultDuration
	}
	return model.NewTimedFor(start, d)
}

// Window reads a flexible from/until pair.
func (s *Service) Window(from, until string) (time.Time, time.Time, error) {
	f, err := ParseLocal(from, s.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	u, err := ParseLocal(until, s.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return f, u, nil
}
