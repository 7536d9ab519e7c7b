package assistant

import (
	"context"
	"errors"
	"slices"
	"strings"

	"calagent/internal/calerr"
	appLog "calagent/internal/log"
	"calagent/internal/model"
	"calagent/internal/schedule"
)

// DeletionState is where a deletion conversation stands after one call.
type DeletionState string

const (
	StateIdle                   DeletionState = "idle"
	StateSearching              DeletionState = "searching"
	StateNotFound               DeletionState = "not_found"
	StateAwaitingConfirmation   DeletionState = "awaiting_confirmation"
	StateAwaitingDisambiguation DeletionState = "awaiting_disambiguation"
	StateConfirmed              DeletionState = "confirmed"
	StateDeleted                DeletionState = "deleted"
	StateFailed                 DeletionState = "failed"
)

// DeletionRequest is either a search or a confirmation, never both.
// PriorCandidates are the ids the previous search showed the user.
type DeletionRequest struct {
	Search          string
	EventID         string
	Confirm         bool
	PriorCandidates []string
}

type DeletionResult struct {
	State DeletionState
	Query string

	// Searched is how many events the search looked at.
	Searched   int
	Candidates []schedule.Hit

	// Event is the deleted event, or the one that failed to delete.
	Event *model.CalendarEvent
	Err   error
}

func (r DeletionRequest) validate() error {
	search := strings.TrimSpace(r.Search)
	id := strings.TrimSpace(r.EventID)
	switch {
	case search != "" && (id != "" || r.Confirm):
		return calerr.Misconfigured("request", "search and confirmation cannot be combined in one request")
	case search == "" && id != "" && !r.Confirm:
		return calerr.Misconfigured("confirm", "deleting event %s requires explicit confirmation", id)
	case search == "" && id == "" && r.Confirm:
		return calerr.Misconfigured("event_id", "confirmation requires an event id")
	case search == "" && id == "":
		return calerr.Misconfigured("request", "provide keywords to search for or an event id to delete")
	}
	return nil
}

// Delete runs one step of the two-phase deletion. A search never changes
// the store; a store delete happens only for an id with Confirm set.
func (s *Service) Delete(ctx context.Context, req DeletionRequest) (DeletionResult, error) {
	if err := req.validate(); err != nil {
		return DeletionResult{State: StateIdle}, err
	}
	if q := strings.TrimSpace(req.Search); q != "" {
		return s.search(ctx, q)
	}
	return s.confirm(ctx, strings.TrimSpace(req.EventID), req.PriorCandidates)
}

func (s *Service) search(ctx context.Context, query string) (DeletionResult, error) {
	now := s.Now()
	from, to := s.DayWindow(now.Add(-s.opts.Lookback), now.Add(s.opts.Lookahead))

	events, err := s.store.FetchEvents(ctx, from, to)
	if err != nil {
		return DeletionResult{State: StateFailed, Query: query, Err: err}, err
	}
	if len(events) > s.opts.MaxSearchResults {
		events = events[:s.opts.MaxSearchResults]
	}
	for i := range events {
		events[i].Interval = events[i].Interval.In(s.opts.Location)
	}

	m := schedule.Match(query, events)
	res := DeletionResult{Query: query, Searched: len(events), Candidates: m.Hits}
	switch m.Tag {
	case schedule.MatchSingle:
		res.State = StateAwaitingConfirmation
	case schedule.MatchMultiple:
		res.State = StateAwaitingDisambiguation
	default:
		res.State = StateNotFound
	}
	appLog.Info("deletion search", "query", query, "searched", res.Searched, "matches", len(m.Hits))
	return res, nil
}

func (s *Service) confirm(ctx context.Context, id string, prior []string) (DeletionResult, error) {
	if len(prior) > 0 && !slices.Contains(prior, id) {
		appLog.Warn("deleting an event that was not among the shown candidates", "id", id, "candidates", len(prior))
	}

	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return s.failed(id, nil, err)
	}
	ev.Interval = ev.Interval.In(s.opts.Location)

	if err := s.store.DeleteEvent(ctx, id); err != nil {
		return s.failed(id, &ev, err)
	}
	appLog.Info("event deleted", "id", id, "title", ev.DisplayTitle())
	return DeletionResult{State: StateDeleted, Event: &ev}, nil
}

func (s *Service) failed(id string, ev *model.CalendarEvent, err error) (DeletionResult, error) {
	if errors.Is(err, calerr.ErrNotFound) {
		appLog.Info("event to delete not found", "id", id)
	} else {
		appLog.Error("event delete failed", err, "id", id)
	}
	return DeletionResult{State: StateFailed, Event: ev, Err: err}, err
}
