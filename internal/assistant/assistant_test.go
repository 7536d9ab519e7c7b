package assistant

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagent/internal/calerr"
	appLog "calagent/internal/log"
	"calagent/internal/model"
	"calagent/internal/store"
)

var day = time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func timed(id, title string, start, end time.Time) model.CalendarEvent {
	return model.CalendarEvent{ID: id, Title: title, Interval: model.TimeInterval{Start: start, End: end}}
}

func newService(mem *store.Memory, busy ...store.Reader) *Service {
	return New(mem, Options{
		Location:  time.UTC,
		Lookback:  7 * 24 * time.Hour,
		Lookahead: 30 * 24 * time.Hour,
		Now:       func() time.Time { return at(8, 0) },
	}, busy...)
}

type brokenFeed struct{}

func (brokenFeed) FetchEvents(context.Context, time.Time, time.Time) ([]model.CalendarEvent, error) {
	return nil, store.Unavailable("fetch", errors.New("feed down"))
}

func intPtr(n int) *int { return &n }

func TestListEvents_FormatsAgenda(t *testing.T) {
	mem := store.NewMemory(
		timed("b", "Lunch", at(12, 0), at(13, 0)),
		timed("a", "Standup", at(9, 0), at(9, 15)),
		model.CalendarEvent{ID: "h", Title: "Holiday", Interval: model.SingleDay(day.AddDate(0, 0, 1))},
	)
	svc := newService(mem)
	ctx := context.Background()

	from, to := svc.DayWindow(day, day)
	agenda, err := svc.ListEvents(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, "Events for 2025-01-16:\n• 09:00-09:15: Standup\n• 12:00-13:00: Lunch\n", FormatAgenda(agenda))

	from, to = svc.DayWindow(day, day.AddDate(0, 0, 1))
	agenda, err = svc.ListEvents(ctx, from, to)
	require.NoError(t, err)
	out := FormatAgenda(agenda)
	assert.True(t, strings.HasPrefix(out, "Events for 2025-01-16 to 2025-01-17:\n"))
	assert.Contains(t, out, "Fri 2025-01-17:\n• All day: Holiday\n")

	from, to = svc.DayWindow(day.AddDate(0, 0, 5), day.AddDate(0, 0, 5))
	agenda, err = svc.ListEvents(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, "No events found for 2025-01-21", FormatAgenda(agenda))
}

func TestListEvents_Truncates(t *testing.T) {
	var events []model.CalendarEvent
	for h := 0; h < 5; h++ {
		events = append(events, timed("", "Slot", at(9+h, 0), at(9+h, 30)))
	}
	svc := New(store.NewMemory(events...), Options{Location: time.UTC, MaxEventsReturned: 3})

	from, to := svc.DayWindow(day, day)
	agenda, err := svc.ListEvents(context.Background(), from, to)
	require.NoError(t, err)
	assert.Len(t, agenda.Events, 3)
	assert.True(t, agenda.Truncated)
	assert.Contains(t, FormatAgenda(agenda), "(showing the first 3 events)")
}

func TestCheckConflicts_IncludesBusyFeeds(t *testing.T) {
	mem := store.NewMemory(timed("own", "Dentist", at(10, 0), at(11, 0)))
	feed := store.NewMemory(
		timed("team:1", "Team offsite prep", at(11, 30), at(12, 30)),
		model.CalendarEvent{ID: "team:2", Title: "Conference", Interval: model.SingleDay(day)},
	)
	svc := newService(mem, feed)

	got, err := svc.CheckConflicts(context.Background(), model.TimeInterval{Start: at(10, 30), End: at(12, 0)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "own", got[0].ID)
	assert.Equal(t, "team:1", got[1].ID)

	got, err = svc.CheckConflicts(context.Background(), model.TimeInterval{Start: at(11, 0), End: at(11, 30)})
	require.NoError(t, err)
	assert.Empty(t, got, "back-to-back is not a conflict")
}

func TestCheckConflicts_BrokenFeedIsSkipped(t *testing.T) {
	mem := store.NewMemory(timed("own", "Dentist", at(10, 0), at(11, 0)))
	svc := newService(mem, brokenFeed{})

	got, err := svc.CheckConflicts(context.Background(), model.TimeInterval{Start: at(10, 0), End: at(10, 30)})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type downCalendar struct {
	*store.Memory
}

func (downCalendar) FetchEvents(context.Context, time.Time, time.Time) ([]model.CalendarEvent, error) {
	return nil, store.Unavailable("fetch", errors.New("calendar down"))
}

// waitingFeed only returns once its context is cancelled.
type waitingFeed struct{}

func (waitingFeed) FetchEvents(ctx context.Context, _, _ time.Time) ([]model.CalendarEvent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCheckConflicts_CalendarFailureDoesNotBlameFeeds(t *testing.T) {
	var logs strings.Builder
	appLog.SetOutput(&logs)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	svc := New(downCalendar{store.NewMemory()}, Options{Location: time.UTC}, waitingFeed{})
	_, err := svc.CheckConflicts(context.Background(), model.TimeInterval{Start: at(10, 0), End: at(10, 30)})
	assert.ErrorIs(t, err, calerr.ErrStoreUnavailable)
	assert.NotContains(t, logs.String(), "busy feeds unavailable")
}

func TestCreateEvent_FixedConflictIsHeld(t *testing.T) {
	mem := store.NewMemory(timed("a", "Team Meeting", at(14, 0), at(15, 0)))
	svc := newService(mem)
	ctx := context.Background()
	slot := model.TimeInterval{Start: at(14, 30), End: at(15, 30)}

	res, err := svc.CreateEvent(ctx, CreateRequest{Title: "Call", Fixed: &slot})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, 1, mem.Len(), "nothing is written on conflict")
	assert.Contains(t, DescribeCreate(res), "overlaps 1 existing event(s)")

	res, err = svc.CreateEvent(ctx, CreateRequest{Title: "Call", Fixed: &slot, AllowConflicts: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.NotEmpty(t, res.Event.ID)
	assert.Equal(t, 2, mem.Len())
}

func TestCreateEvent_Flexible(t *testing.T) {
	mem := store.NewMemory(
		timed("a", "Busy", at(9, 0), at(12, 0)),
		timed("b", "Busy", at(13, 0), at(16, 0)),
	)
	svc := newService(mem)
	ctx := context.Background()

	res, err := svc.CreateEvent(ctx, CreateRequest{
		Title:    "Workout",
		Flexible: &Flexible{Duration: 90 * time.Minute, From: at(9, 0), Until: at(18, 0)},
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, at(16, 0), res.Event.Start())
	assert.Equal(t, at(17, 30), res.Event.End())

	res, err = svc.CreateEvent(ctx, CreateRequest{
		Title:    "Long focus",
		Flexible: &Flexible{Duration: 3 * time.Hour, From: at(9, 0), Until: at(18, 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoSlot, res.Outcome)
	assert.Equal(t, 3, mem.Len())
}

func TestCreateEvent_Recurring(t *testing.T) {
	mem := store.NewMemory()
	svc := newService(mem)
	slot := model.TimeInterval{Start: at(10, 0), End: at(11, 0)}

	res, err := svc.CreateEvent(context.Background(), CreateRequest{
		Title: "Team Meeting", Fixed: &slot, Frequency: "weekly", Count: intPtr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=3", res.Rule)
	require.Len(t, res.Occurrences, 3)
	assert.Equal(t, at(10, 0).AddDate(0, 0, 14), res.Occurrences[2].Start)
	assert.Contains(t, DescribeCreate(res), "Repeats 3 times, last on 2025-01-30.")

	stored, err := mem.GetEvent(context.Background(), res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=3", stored.Recurrence)

	nextWeek := model.TimeInterval{Start: at(10, 30).AddDate(0, 0, 7), End: at(11, 30).AddDate(0, 0, 7)}
	conflicts, err := svc.CheckConflicts(context.Background(), nextWeek)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Team Meeting", conflicts[0].Title)

	afterSeries := model.TimeInterval{Start: at(10, 30).AddDate(0, 0, 21), End: at(11, 30).AddDate(0, 0, 21)}
	conflicts, err = svc.CheckConflicts(context.Background(), afterSeries)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCreateEvent_Validation(t *testing.T) {
	slot := model.TimeInterval{Start: at(10, 0), End: at(11, 0)}
	backwards := model.TimeInterval{Start: at(11, 0), End: at(10, 0)}
	tests := []struct {
		name   string
		req    CreateRequest
		config bool
	}{
		{"blank title", CreateRequest{Title: "  ", Fixed: &slot}, false},
		{"no time", CreateRequest{Title: "x"}, true},
		{"both times", CreateRequest{Title: "x", Fixed: &slot, Flexible: &Flexible{}}, true},
		{"backwards", CreateRequest{Title: "x", Fixed: &backwards}, false},
		{"frequency without count", CreateRequest{Title: "x", Fixed: &slot, Frequency: "daily"}, true},
		{"count without frequency", CreateRequest{Title: "x", Fixed: &slot, Count: intPtr(2)}, true},
		{"yearly", CreateRequest{Title: "x", Fixed: &slot, Frequency: "yearly", Count: intPtr(2)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			_, err := newService(mem).CreateEvent(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, calerr.ErrValidation)
			assert.Equal(t, tt.config, errors.Is(err, calerr.ErrConfiguration))
			assert.Equal(t, 0, mem.Len())
		})
	}
}

func TestFindSlot_DefaultsAndGap(t *testing.T) {
	mem := store.NewMemory(timed("a", "Busy", at(9, 0), at(10, 0)))
	svc := New(mem, Options{Location: time.UTC, MinGap: 15 * time.Minute, DefaultDuration: 30 * time.Minute})

	res, err := svc.FindSlot(context.Background(), SlotQuery{From: at(9, 0), Until: at(12, 0)})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, at(10, 15), res.Slot.Start)
	assert.Equal(t, at(10, 45), res.Slot.End)

	zero := time.Duration(0)
	res, err = svc.FindSlot(context.Background(), SlotQuery{From: at(9, 0), Until: at(12, 0), MinGap: &zero})
	require.NoError(t, err)
	assert.Equal(t, at(10, 0), res.Slot.Start)

	_, err = svc.FindSlot(context.Background(), SlotQuery{From: at(12, 0), Until: at(9, 0)})
	assert.ErrorIs(t, err, calerr.ErrValidation)
}

func TestPreviewRecurrence(t *testing.T) {
	svc := newService(store.NewMemory())
	base := model.TimeInterval{Start: time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)}

	occ, rule, err := svc.PreviewRecurrence(base, "monthly", intPtr(3))
	require.NoError(t, err)
	assert.Equal(t, "FREQ=MONTHLY;COUNT=3;BYSETPOS=-1;BYMONTHDAY=28,29,30,31", rule)
	require.Len(t, occ, 3)
	assert.Equal(t, 28, occ[1].Start.Day())
	assert.Equal(t, 31, occ[2].Start.Day())

	occ, rule, err = svc.PreviewRecurrence(base, "", nil)
	require.NoError(t, err)
	assert.Empty(t, rule)
	assert.Len(t, occ, 1)
}

func TestDescribeNow(t *testing.T) {
	assert.Equal(t, "Current date: 2025-01-16, Current time: 08:00, Day of week: Thursday",
		DescribeNow(newService(store.NewMemory()).Now()))
}

func TestParseLocal(t *testing.T) {
	got, err := ParseLocal("2025-01-16 14:30", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(14, 30), got)

	_, err = ParseLocal("tomorrow 2pm", time.UTC)
	assert.ErrorIs(t, err, calerr.ErrValidation)
}

func TestResolveInterval(t *testing.T) {
	svc := New(store.NewMemory(), Options{Location: time.UTC, DefaultDuration: 45 * time.Minute})

	iv, err := svc.ResolveInterval(IntervalInput{Start: "2025-01-16 09:00"})
	require.NoError(t, err)
	assert.Equal(t, at(9, 45), iv.End)

	iv, err = svc.ResolveInterval(IntervalInput{Start: "2025-01-16 09:00", End: "2025-01-16 09:30"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, iv.Duration())

	iv, err = svc.ResolveInterval(IntervalInput{Date: "2025-01-16", EndDate: "2025-01-18"})
	require.NoError(t, err)
	assert.True(t, iv.IsAllDay())
	assert.Equal(t, day.AddDate(0, 0, 3), iv.End)

	_, err = svc.ResolveInterval(IntervalInput{Start: "2025-01-16 09:00", End: "2025-01-16 10:00", Duration: time.Hour})
	assert.ErrorIs(t, err, calerr.ErrConfiguration)

	_, err = svc.ResolveInterval(IntervalInput{Start: "2025-01-16 09:00", End: "2025-01-16 08:00"})
	assert.ErrorIs(t, err, calerr.ErrValidation)

	_, err = svc.ResolveInterval(IntervalInput{})
	assert.ErrorIs(t, err, calerr.ErrValidation)
}
