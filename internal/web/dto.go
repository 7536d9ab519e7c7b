package web

import (
	"time"

	"calagent/internal/assistant"
	"calagent/internal/model"
)

// Request timestamps use assistant.InputLayout ("2006-01-02 15:04") in the
// configured zone; dates use "2006-01-02".

// intervalRequest is either a timed interval (start plus end or
// duration_minutes) or an all-day range (date, optional inclusive end_date).
type intervalRequest struct {
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Date            string `json:"date,omitempty"`
	EndDate         string `json:"end_date,omitempty"`
}

func (b intervalRequest) input() assistant.IntervalInput {
	return assistant.IntervalInput{
		Start:    b.Start,
		End:      b.End,
		Duration: minutes(b.DurationMinutes),
		Date:     b.Date,
		EndDate:  b.EndDate,
	}
}

func (b intervalRequest) toInterval(svc *assistant.Service) (model.TimeInterval, error) {
	return svc.ResolveInterval(b.input())
}

type flexibleRequest struct {
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	From            string `json:"from"`
	Until           string `json:"until"`
}

type createRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`

	intervalRequest
	Flexible *flexibleRequest `json:"flexible,omitempty"`

	Frequency      string `json:"frequency,omitempty"`
	Count          *int   `json:"count,omitempty"`
	AllowConflicts bool   `json:"allow_conflicts,omitempty"`
}

func (b createRequest) toRequest(svc *assistant.Service) (assistant.CreateRequest, error) {
	req := assistant.CreateRequest{
		Title:          b.Title,
		Description:    b.Description,
		Location:       b.Location,
		Attendees:      b.Attendees,
		Frequency:      b.Frequency,
		Count:          b.Count,
		AllowConflicts: b.AllowConflicts,
	}
	if !b.input().IsZero() {
		iv, err := b.toInterval(svc)
		if err != nil {
			return assistant.CreateRequest{}, err
		}
		req.Fixed = &iv
	}
	if f := b.Flexible; f != nil {
		from, until, err := svc.Window(f.From, f.Until)
		if err != nil {
			return assistant.CreateRequest{}, err
		}
		req.Flexible = &assistant.Flexible{Duration: minutes(f.DurationMinutes), From: from, Until: until}
	}
	return req, nil
}

type slotRequest struct {
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	From            string `json:"from"`
	Until           string `json:"until"`
	MinGapMinutes   *int   `json:"min_gap_minutes,omitempty"`
}

func (b slotRequest) toQuery(svc *assistant.Service) (assistant.SlotQuery, error) {
	from, until, err := svc.Window(b.From, b.Until)
	if err != nil {
		return assistant.SlotQuery{}, err
	}
	q := assistant.SlotQuery{Duration: minutes(b.DurationMinutes), From: from, Until: until}
	if b.MinGapMinutes != nil {
		gap := minutes(*b.MinGapMinutes)
		q.MinGap = &gap
	}
	return q, nil
}

type previewRequest struct {
	intervalRequest
	Frequency string `json:"frequency,omitempty"`
	Count     *int   `json:"count,omitempty"`
}

type deleteRequest struct {
	Search          string   `json:"search,omitempty"`
	EventID         string   `json:"event_id,omitempty"`
	Confirm         bool     `json:"confirm,omitempty"`
	PriorCandidates []string `json:"prior_candidates,omitempty"`
}

type eventDTO struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Link        string    `json:"link,omitempty"`
	Recurrence  string    `json:"recurrence,omitempty"`
}

type intervalDTO struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
}

type nowResponse struct {
	Now      time.Time `json:"now"`
	Timezone string    `json:"timezone"`
	Weekday  string    `json:"weekday"`
	Message  string    `json:"message"`
}

type agendaResponse struct {
	From      time.Time  `json:"from"`
	To        time.Time  `json:"to"`
	Events    []eventDTO `json:"events"`
	Truncated bool       `json:"truncated"`
	Message   string     `json:"message"`
}

type createResponse struct {
	Outcome     string        `json:"outcome"`
	Event       eventDTO      `json:"event"`
	Conflicts   []eventDTO    `json:"conflicts"`
	Rule        string        `json:"rule,omitempty"`
	Occurrences []intervalDTO `json:"occurrences"`
	Message     string        `json:"message"`
}

type conflictsResponse struct {
	Candidate intervalDTO `json:"candidate"`
	Conflicts []eventDTO  `json:"conflicts"`
}

type slotResponse struct {
	Found bool         `json:"found"`
	Slot  *intervalDTO `json:"slot,omitempty"`
}

type previewResponse struct {
	Rule        string        `json:"rule,omitempty"`
	Occurrences []intervalDTO `json:"occurrences"`
}

type candidateDTO struct {
	Event eventDTO `json:"event"`
	Match string   `json:"match"`
}

type deleteResponse struct {
	State      string         `json:"state"`
	Query      string         `json:"query,omitempty"`
	Candidates []candidateDTO `json:"candidates,omitempty"`
	Event      *eventDTO      `json:"event,omitempty"`
	Message    string         `json:"message"`
}
