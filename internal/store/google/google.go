// Package google adapts the Google Calendar v3 API to store.Store.
package google

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calagent/internal/calerr"
	appLog "calagent/internal/log"
	"calagent/internal/model"
	"calagent/internal/store"
)

const (
	defaultCalendarID = "primary"
	pageSize          = 250
	dateLayout        = "2006-01-02"
)

// Calendar talks to one Google calendar. Times are converted to loc on read
// and sent with loc's name on write.
type Calendar struct {
	svc        *calendar.Service
	calendarID string
	loc        *time.Location
}

// New builds the service. opts override the default OAuth client, which
// is how tests point it at a local server.
func New(ctx context.Context, calendarID string, loc *time.Location, opts ...option.ClientOption) (*Calendar, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, &calerr.StoreError{Op: "connect", Kind: calerr.ErrStoreAuth, Err: err}
	}
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{svc: svc, calendarID: calendarID, loc: loc}, nil
}

// NewFromFiles authorizes with the credentials and token files.
func NewFromFiles(ctx context.Context, credentialsFile, tokenFile, calendarID string, loc *time.Location) (*Calendar, error) {
	client, err := HTTPClient(ctx, credentialsFile, tokenFile)
	if err != nil {
		return nil, err
	}
	return New(ctx, calendarID, loc, option.WithHTTPClient(client))
}

func (c *Calendar) FetchEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	if err := store.ValidateWindow(start, end); err != nil {
		return nil, err
	}

	call := c.svc.Events.List(c.calendarID).
		Context(ctx).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(pageSize)

	var out []model.CalendarEvent
	for {
		page, err := call.Do()
		if err != nil {
			return nil, classify(err, &calerr.StoreError{Op: "fetch", Start: start, End: end})
		}
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := c.fromAPI(item)
			if err != nil {
				appLog.Warn("google event skipped", "id", item.Id, "err", err)
				continue
			}
			out = append(out, ev)
		}
		if page.NextPageToken == "" {
			break
		}
		call.PageToken(page.NextPageToken)
	}

	store.SortEvents(out)
	return out, nil
}

func (c *Calendar) InsertEvent(ctx context.Context, ev model.CalendarEvent, rule string) (store.Inserted, error) {
	body := c.toAPI(ev)
	if rule != "" {
		body.Recurrence = []string{"RRULE:" + strings.TrimPrefix(rule, "RRULE:")}
	}

	created, err := c.svc.Events.Insert(c.calendarID, body).Context(ctx).Do()
	if err != nil {
		return store.Inserted{}, classify(err, &calerr.StoreError{Op: "insert"})
	}
	appLog.Info("google event created", "id", created.Id, "calendar", c.calendarID)
	return store.Inserted{ID: created.Id, Link: created.HtmlLink}, nil
}

func (c *Calendar) GetEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	item, err := c.svc.Events.Get(c.calendarID, id).Context(ctx).Do()
	if err != nil {
		return model.CalendarEvent{}, classify(err, &calerr.StoreError{Op: "get", ID: id})
	}
	if item.Status == "cancelled" {
		return model.CalendarEvent{}, store.NotFound("get", id)
	}
	ev, err := c.fromAPI(item)
	if err != nil {
		return model.CalendarEvent{}, &calerr.StoreError{Op: "get", ID: id, Kind: calerr.ErrStoreValidation, Err: err}
	}
	return ev, nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, id string) error {
	if err := c.svc.Events.Delete(c.calendarID, id).Context(ctx).Do(); err != nil {
		return classify(err, &calerr.StoreError{Op: "delete", ID: id})
	}
	appLog.Info("google event deleted", "id", id, "calendar", c.calendarID)
	return nil
}

// classify fills in the Kind of base from an API or transport error.
func classify(err error, base *calerr.StoreError) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	base.Err = err

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		base.Kind = calerr.ErrStoreUnavailable
		return base
	}
	switch code := apiErr.Code; {
	case code == http.StatusNotFound || code == http.StatusGone:
		base.Kind = calerr.ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		base.Kind = calerr.ErrStoreAuth
	case code == http.StatusTooManyRequests || code >= 500:
		base.Kind = calerr.ErrStoreUnavailable
	default:
		base.Kind = calerr.ErrStoreValidation
	}
	return base
}

func (c *Calendar) fromAPI(item *calendar.Event) (model.CalendarEvent, error) {
	iv, err := c.interval(item.Start, item.End)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	ev := model.CalendarEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Interval:    iv,
		Description: item.Description,
		Location:    item.Location,
		Link:        item.HtmlLink,
	}
	for _, a := range item.Attendees {
		if a != nil && a.Email != "" {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}
	for _, r := range item.Recurrence {
		if strings.HasPrefix(r, "RRULE:") {
			ev.Recurrence = strings.TrimPrefix(r, "RRULE:")
		}
	}
	return ev, nil
}

func (c *Calendar) interval(start, end *calendar.EventDateTime) (model.TimeInterval, error) {
	if start == nil || end == nil {
		return model.TimeInterval{}, errors.New("event has no start or end")
	}

	if start.Date != "" {
		s, err := time.ParseInLocation(dateLayout, start.Date, c.loc)
		if err != nil {
			return model.TimeInterval{}, err
		}
		e := s.AddDate(0, 0, 1)
		if end.Date != "" {
			if parsed, err := time.ParseInLocation(dateLayout, end.Date, c.loc); err == nil && parsed.After(s) {
				e = parsed
			}
		}
		return model.TimeInterval{Start: s, End: e, Kind: model.AllDay}, nil
	}

	s, err := time.Parse(time.RFC3339, start.DateTime)
	if err != nil {
		return model.TimeInterval{}, err
	}
	e, err := time.Parse(time.RFC3339, end.DateTime)
	if err != nil {
		return model.TimeInterval{}, err
	}
	return model.NewTimed(s.In(c.loc), e.In(c.loc))
}

func (c *Calendar) toAPI(ev model.CalendarEvent) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.IsAllDay() {
		out.Start = &calendar.EventDateTime{Date: ev.Start().Format(dateLayout)}
		out.End = &calendar.EventDateTime{Date: ev.End().Format(dateLayout)}
	} else {
		tz := c.loc.String()
		if tz == "Local" {
			tz = ""
		}
		out.Start = &calendar.EventDateTime{DateTime: ev.Start().In(c.loc).Format(time.RFC3339), TimeZone: tz}
		out.End = &calendar.EventDateTime{DateTime: ev.End().In(c.loc).Format(time.RFC3339), TimeZone: tz}
	}
	for _, email := range ev.Attendees {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{Email: email})
	}
	return out
}
