package model

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagent/internal/calerr"
)

func at(h, m int) time.Time {
	return time.Date(2025, 1, 16, h, m, 0, 0, time.UTC)
}

func timed(t *testing.T, sh, sm, eh, em int) TimeInterval {
	t.Helper()
	iv, err := NewTimed(at(sh, sm), at(eh, em))
	require.NoError(t, err)
	return iv
}

func TestNewTimedRejectsNonPositiveRange(t *testing.T) {
	_, err := NewTimed(at(10, 0), at(10, 0))
	assert.ErrorIs(t, err, calerr.ErrValidation)

	_, err = NewTimed(at(11, 0), at(10, 0))
	assert.ErrorIs(t, err, calerr.ErrValidation)

	_, err = NewTimedFor(at(10, 0), 0)
	assert.ErrorIs(t, err, calerr.ErrValidation)
}

func TestOverlapsIsSymmetric(t *testing.T) {
	cases := [][2]TimeInterval{
		{timed(t, 9, 0, 10, 0), timed(t, 9, 30, 11, 0)},
		{timed(t, 9, 0, 10, 0), timed(t, 10, 0, 11, 0)},
		{timed(t, 9, 0, 12, 0), timed(t, 10, 0, 11, 0)},
		{timed(t, 9, 0, 10, 0), timed(t, 13, 0, 14, 0)},
	}
	for _, c := range cases {
		assert.Equal(t, Overlaps(c[0], c[1]), Overlaps(c[1], c[0]))
	}
}

func TestBackToBackIsNotOverlap(t *testing.T) {
	a := timed(t, 9, 0, 10, 0)
	b := timed(t, 10, 0, 11, 0)
	assert.False(t, Overlaps(a, b))
	assert.False(t, Conflicts(a, b))
	assert.True(t, Adjacent(a, b))
}

func TestConflictsIgnoresAllDay(t *testing.T) {
	day := SingleDay(at(15, 0))
	assert.True(t, Overlaps(day, timed(t, 9, 0, 10, 0)))
	assert.False(t, Conflicts(day, timed(t, 9, 0, 10, 0)))
	assert.False(t, Conflicts(timed(t, 9, 0, 10, 0), day))
}

func TestNewAllDayNormalizesToMidnight(t *testing.T) {
	iv, err := NewAllDay(at(15, 30), at(15, 30).AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC), iv.Start)
	assert.Equal(t, time.Date(2025, 1, 18, 0, 0, 0, 0, time.UTC), iv.End)
	assert.True(t, iv.IsAllDay())

	_, err = NewAllDay(at(9, 0), at(18, 0))
	assert.ErrorIs(t, err, calerr.ErrValidation, "same-day all-day range is empty")
}

func TestInKeepsAllDayDates(t *testing.T) {
	toronto, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	day := SingleDay(at(0, 0)).In(toronto)
	assert.Equal(t, 16, day.Start.Day())
	assert.Equal(t, toronto, day.Start.Location())

	moved := timed(t, 15, 0, 16, 0).In(toronto)
	assert.Equal(t, 10, moved.Start.Hour())
}

func TestInstanceID(t *testing.T) {
	id := InstanceID("abc_def", time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC))
	uid, start, ok := SplitInstanceID(id)
	require.True(t, ok)
	assert.Equal(t, "abc_def", uid)
	assert.True(t, start.Equal(time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)))

	uid, _, ok = SplitInstanceID("plain_uid")
	assert.False(t, ok)
	assert.Equal(t, "plain_uid", uid)
}
