package assistant

import (
	"fmt"
	"strings"
	"time"

	"calagent/internal/calerr"
	"calagent/internal/model"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	// InputLayout is how callers write local timestamps.
	InputLayout = "2006-01-02 15:04"
)

// ParseLocal parses an InputLayout timestamp in loc.
func ParseLocal(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(InputLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, calerr.Invalid("time", "use format 'YYYY-MM-DD HH:MM', got %q", value)
	}
	return t, nil
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, calerr.Invalid("date", "use format 'YYYY-MM-DD', got %q", value)
	}
	return t, nil
}

// FormatAgenda renders an agenda one line per event, grouped by local day
// when the window covers more than one.
func FormatAgenda(a Agenda) string {
	label := a.From.Format(dateLayout)
	last := a.To.Add(-time.Nanosecond)
	multiDay := last.Format(dateLayout) != label
	if multiDay {
		label += " to " + last.Format(dateLayout)
	}

	if len(a.Events) == 0 {
		return "No events found for " + label
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Events for %s:\n", label)
	day := ""
	for _, ev := range a.Events {
		if d := ev.Start().Format(dateLayout); multiDay && d != day {
			day = d
			fmt.Fprintf(&b, "%s:\n", ev.Start().Format("Mon 2006-01-02"))
		}
		b.WriteString("• ")
		b.WriteString(timeRange(ev.Interval))
		b.WriteString(": ")
		b.WriteString(ev.DisplayTitle())
		b.WriteByte('\n')
	}
	if a.Truncated {
		fmt.Fprintf(&b, "(showing the first %d events)\n", len(a.Events))
	}
	return b.String()
}

func timeRange(iv model.TimeInterval) string {
	if iv.IsAllDay() {
		return "All day"
	}
	return iv.Start.Format(clockLayout) + "-" + iv.End.Format(clockLayout)
}

// when renders "2025-01-16 at 09:00" or "2025-01-16 (all day)".
func when(ev model.CalendarEvent) string {
	if ev.IsAllDay() {
		return ev.Start().Format(dateLayout) + " (all day)"
	}
	return ev.Start().Format(dateLayout) + " at " + ev.Start().Format(clockLayout)
}

func describeEvent(ev model.CalendarEvent) string {
	s := fmt.Sprintf("'%s' on %s", ev.DisplayTitle(), when(ev))
	if ev.Location != "" {
		s += " at " + ev.Location
	}
	return s
}

// DescribeCreate summarizes a CreateEvent result for the user.
func DescribeCreate(res CreateResult) string {
	var b strings.Builder
	switch res.Outcome {
	case OutcomeCreated:
		fmt.Fprintf(&b, "Event '%s' created for %s.", res.Event.DisplayTitle(), when(res.Event))
		if n := len(res.Occurrences); n > 1 {
			fmt.Fprintf(&b, " Repeats %d times, last on %s.", n, res.Occurrences[n-1].Start.Format(dateLayout))
		}
		if res.Event.Link != "" {
			fmt.Fprintf(&b, " Link: %s", res.Event.Link)
		}
	case OutcomeConflict:
		fmt.Fprintf(&b, "'%s' at %s overlaps %d existing event(s):\n", res.Event.DisplayTitle(), timeRange(res.Event.Interval), len(res.Conflicts))
		for _, c := range res.Conflicts {
			fmt.Fprintf(&b, "• %s: %s\n", timeRange(c.Interval), c.DisplayTitle())
		}
		b.WriteString("Book it anyway, schedule it after the existing event, or pick a new time?")
	case OutcomeNoSlot:
		fmt.Fprintf(&b, "No free slot found for '%s' in the requested window.", res.Event.DisplayTitle())
	}
	return b.String()
}

// DescribeDeletion summarizes one deletion step for the user.
func DescribeDeletion(res DeletionResult) string {
	var b strings.Builder
	switch res.State {
	case StateNotFound:
		if res.Searched == 0 {
			return "No events found in your calendar to search through."
		}
		return fmt.Sprintf("No events found matching '%s'. Try being more specific or check the event title.", res.Query)
	case StateAwaitingConfirmation:
		ev := res.Candidates[0].Event
		fmt.Fprintf(&b, "Found 1 matching event:\n%s\n\nIs this the event you want to delete?\n\nEvent ID: %s", describeEvent(ev), ev.ID)
	case StateAwaitingDisambiguation:
		fmt.Fprintf(&b, "Found %d matching events:\n\n", len(res.Candidates))
		for i, h := range res.Candidates {
			fmt.Fprintf(&b, "%d. %s\n   Event ID: %s\n\n", i+1, describeEvent(h.Event), h.Event.ID)
		}
		b.WriteString("Which event would you like to delete? Please tell me the number or be more specific.")
	case StateDeleted:
		fmt.Fprintf(&b, "Event '%s' has been deleted.", res.Event.DisplayTitle())
	case StateFailed:
		b.WriteString(calerr.UserMessage(res.Err))
	}
	return b.String()
}

// DescribeNow is the current local date, time and weekday.
func DescribeNow(now time.Time) string {
	return fmt.Sprintf("Current date: %s, Current time: %s, Day of week: %s",
		now.Format(dateLayout), now.Format(clockLayout), now.Weekday())
}
