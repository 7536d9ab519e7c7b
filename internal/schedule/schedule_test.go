package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"calagent/internal/model"
)

var day = time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)

func clock(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func timedEvent(t *testing.T, id string, sh, sm, eh, em int) model.CalendarEvent {
	t.Helper()
	iv, err := model.NewTimed(clock(sh, sm), clock(eh, em))
	require.NoError(t, err)
	return model.CalendarEvent{ID: id, Title: id, Interval: iv}
}

func allDayEvent(id string) model.CalendarEvent {
	return model.CalendarEvent{ID: id, Title: id, Interval: model.SingleDay(day)}
}
