package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagent/internal/calerr"
	"calagent/internal/model"
)

func calendar(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

var sample = calendar(
	"BEGIN:VEVENT",
	"UID:standup",
	"DTSTAMP:20250101T000000Z",
	"DTSTART:20250116T090000Z",
	"DTEND:20250116T093000Z",
	"SUMMARY:Team Standup",
	"ATTENDEE;CN=Ana:mailto:ana@example.com",
	"RRULE:FREQ=DAILY;COUNT=5",
	"EXDATE:20250117T090000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup",
	"DTSTAMP:20250101T000000Z",
	"RECURRENCE-ID:20250118T090000Z",
	"DTSTART:20250118T100000Z",
	"DTEND:20250118T103000Z",
	"SUMMARY:Team Standup (moved)",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:holiday",
	"DTSTAMP:20250101T000000Z",
	"DTSTART;VALUE=DATE:20250120",
	"DTEND;VALUE=DATE:20250121",
	"SUMMARY:Holiday",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:quick",
	"DTSTAMP:20250101T000000Z",
	"DTSTART:20250119T150000Z",
	"SUMMARY:Quick call",
	"END:VEVENT",
)

func utc(day, hour, minute int) time.Time {
	return time.Date(2025, 1, day, hour, minute, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	events, err := Parse(sample, time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 4)

	standup := events[0]
	assert.Equal(t, "standup", standup.UID)
	assert.Equal(t, "Team Standup", standup.Summary)
	assert.Equal(t, []string{"ana@example.com"}, standup.Attendees)
	assert.Equal(t, "FREQ=DAILY;COUNT=5", standup.RawRRule)
	require.Len(t, standup.ExDates, 1)
	assert.True(t, standup.ExDates[0].Equal(utc(17, 9, 0)))
	assert.False(t, standup.IsOverride())

	assert.True(t, events[1].IsOverride())

	holiday := events[2]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, utc(20, 0, 0), holiday.Start)
	assert.Equal(t, utc(21, 0, 0), holiday.End)

	quick := events[3]
	assert.Equal(t, defaultTimedLength, quick.End.Sub(quick.Start))
}

func TestParse_Empty(t *testing.T) {
	events, err := Parse([]byte("  \n"), time.UTC)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOccurrences_SeriesWithExdateAndOverride(t *testing.T) {
	parsed, err := Parse(sample, time.UTC)
	require.NoError(t, err)

	got, err := Occurrences(parsed, ExpandConfig{Location: time.UTC, RangeStart: utc(16, 0, 0), RangeEnd: utc(23, 0, 0)})
	require.NoError(t, err)

	var titles []string
	for _, ev := range got {
		titles = append(titles, ev.Start().Format("02 15:04")+" "+ev.Title)
	}
	assert.Equal(t, []string{
		"16 09:00 Team Standup",
		"18 10:00 Team Standup (moved)",
		"19 09:00 Team Standup",
		"19 15:00 Quick call",
		"20 00:00 Holiday",
		"20 09:00 Team Standup",
	}, titles)

	moved := got[1]
	assert.Equal(t, model.InstanceID("standup", utc(18, 9, 0)), moved.ID)
	assert.Equal(t, "FREQ=DAILY;COUNT=5", moved.Recurrence)
	assert.Equal(t, model.AllDay, got[4].Interval.Kind)
	assert.Equal(t, "holiday", got[4].ID)
}

func TestOccurrences_WindowIsHalfOpen(t *testing.T) {
	parsed, err := Parse(sample, time.UTC)
	require.NoError(t, err)

	// The 16th standup ends exactly at 09:30 and must not be included.
	got, err := Occurrences(parsed, ExpandConfig{Location: time.UTC, RangeStart: utc(16, 9, 30), RangeEnd: utc(18, 10, 0)})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Occurrences(parsed, ExpandConfig{RangeStart: utc(16, 0, 0), RangeEnd: utc(16, 0, 0)})
	assert.Error(t, err)
}

func TestOccurrences_ComplexRuleUsesRRuleSet(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:gym",
		"DTSTAMP:20250101T000000Z",
		"DTSTART:20250113T140000Z",
		"DTEND:20250113T150000Z",
		"SUMMARY:Gym",
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=4",
		"END:VEVENT",
	)
	parsed, err := Parse(body, time.UTC)
	require.NoError(t, err)

	got, err := Occurrences(parsed, ExpandConfig{Location: time.UTC, RangeStart: utc(14, 0, 0), RangeEnd: utc(21, 0, 0)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, utc(15, 14, 0), got[0].Start())
	assert.Equal(t, utc(20, 14, 0), got[1].Start())
}

func TestOccurrences_MonthlyFrom31stFollowsRule(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:close",
		"DTSTAMP:20250101T000000Z",
		"DTSTART:20250131T090000Z",
		"DTEND:20250131T100000Z",
		"SUMMARY:Month close",
		"RRULE:FREQ=MONTHLY;COUNT=3",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:clamped",
		"DTSTAMP:20250101T000000Z",
		"DTSTART:20250131T120000Z",
		"DTEND:20250131T130000Z",
		"SUMMARY:Report",
		"RRULE:FREQ=MONTHLY;COUNT=3;BYSETPOS=-1;BYMONTHDAY=28,29,30,31",
		"END:VEVENT",
	)
	parsed, err := Parse(body, time.UTC)
	require.NoError(t, err)

	feb, err := Occurrences(parsed, ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, feb, 1)
	assert.Equal(t, "Report", feb[0].Title)
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), feb[0].Start())

	all, err := Occurrences(parsed, ExpandConfig{
		Location:   time.UTC,
		RangeStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	var closes []time.Time
	for _, ev := range all {
		if ev.Title == "Month close" {
			closes = append(closes, ev.Start())
		}
	}
	assert.Equal(t, []time.Time{
		time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC),
	}, closes)
}

func TestEncode_RoundTrip(t *testing.T) {
	events := []ParsedEvent{
		{
			UID:       "a1",
			Summary:   "Planning",
			Location:  "Room 4",
			URL:       "https://example.com/a1",
			Attendees: []string{"bo@example.com"},
			Start:     utc(16, 13, 0),
			End:       utc(16, 14, 0),
			RawRRule:  "FREQ=WEEKLY;COUNT=3",
			ExDates:   []time.Time{utc(23, 13, 0)},
		},
		{UID: "a2", Summary: "Offsite", Start: utc(17, 0, 0), End: utc(18, 0, 0), AllDay: true},
	}

	back, err := Parse([]byte(Encode(events, utc(1, 0, 0))), time.UTC)
	require.NoError(t, err)
	require.Len(t, back, 2)

	assert.Equal(t, "Planning", back[0].Summary)
	assert.Equal(t, "Room 4", back[0].Location)
	assert.Equal(t, "https://example.com/a1", back[0].URL)
	assert.Equal(t, []string{"bo@example.com"}, back[0].Attendees)
	assert.True(t, back[0].Start.Equal(utc(16, 13, 0)))
	assert.True(t, back[0].End.Equal(utc(16, 14, 0)))
	assert.Equal(t, "FREQ=WEEKLY;COUNT=3", back[0].RawRRule)
	require.Len(t, back[0].ExDates, 1)
	assert.True(t, back[0].ExDates[0].Equal(utc(23, 13, 0)))

	assert.True(t, back[1].AllDay)
	assert.Equal(t, utc(17, 0, 0), back[1].Start)
	assert.Equal(t, utc(18, 0, 0), back[1].End)
}

func TestFeed_ConditionalFetchAndFallback(t *testing.T) {
	var hits, notModified atomic.Int32
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(sample)
	}))
	defer srv.Close()

	feed := NewFeed(Subscription{Name: "team", URL: srv.URL + "/private.ics?token=x"}, NewFetcher(srv.Client(), t.TempDir(), 0), time.UTC)
	ctx := context.Background()

	first, err := feed.FetchEvents(ctx, utc(19, 0, 0), utc(20, 0, 0))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, strings.HasPrefix(first[0].ID, "team:"))

	second, err := feed.FetchEvents(ctx, utc(19, 0, 0), utc(20, 0, 0))
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.Equal(t, int32(1), notModified.Load())

	failing.Store(true)
	third, err := feed.FetchEvents(ctx, utc(19, 0, 0), utc(20, 0, 0))
	require.NoError(t, err)
	assert.Len(t, third, 2)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFeed_UnavailableWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	feed := NewFeed(Subscription{Name: "team", URL: srv.URL}, NewFetcher(srv.Client(), "", 0), time.UTC)
	_, err := feed.FetchEvents(context.Background(), utc(19, 0, 0), utc(20, 0, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, calerr.ErrStoreUnavailable)
}

func TestFetcher_RejectsOversizedBody(t *testing.T) {
	var big atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if big.Load() {
			_, _ = w.Write([]byte(strings.Repeat("X", len(sample)+1)))
			return
		}
		_, _ = w.Write(sample)
	}))
	defer srv.Close()
	sub := Subscription{Name: "team", URL: srv.URL}

	big.Store(true)
	_, _, err := NewFetcher(srv.Client(), "", int64(len(sample))).Fetch(context.Background(), sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	cached := NewFetcher(srv.Client(), t.TempDir(), int64(len(sample)))
	big.Store(false)
	body, fromCache, err := cached.Fetch(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, sample, body)

	big.Store(true)
	body, fromCache, err = cached.Fetch(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, sample, body)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/u/secret.ics?token=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
