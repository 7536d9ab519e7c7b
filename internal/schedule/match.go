package schedule

import (
	"strings"
	"unicode"

	"calagent/internal/model"
)

// Tier records which rule matched an event. Lower is stronger.
type Tier int

const (
	TierTitle Tier = iota + 1
	TierDescription
	TierLocation
	TierTitleWord
)

func (t Tier) String() string {
	switch t {
	case TierTitle:
		return "title"
	case TierDescription:
		return "description"
	case TierLocation:
		return "location"
	case TierTitleWord:
		return "title_word"
	default:
		return "none"
	}
}

// MatchTag drives the deletion workflow's branching.
type MatchTag string

const (
	MatchNone     MatchTag = "none"
	MatchSingle   MatchTag = "single"
	MatchMultiple MatchTag = "multiple"
)

type Hit struct {
	Event model.CalendarEvent
	Tier  Tier
}

type MatchResult struct {
	Query string
	Hits  []Hit
	Tag   MatchTag
}

func (r MatchResult) Events() []model.CalendarEvent {
	out := make([]model.CalendarEvent, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Event
	}
	return out
}

// Match returns every event satisfying any tier, in input order. Hits are
// not reordered by tier; Tier is reported so callers can rank if they want.
func Match(query string, events []model.CalendarEvent) MatchResult {
	res := MatchResult{Query: query, Tag: MatchNone}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return res
	}
	tokens := strings.Fields(q)

	for _, ev := range events {
		if tier := matchTier(q, tokens, ev); tier != 0 {
			res.Hits = append(res.Hits, Hit{Event: ev, Tier: tier})
		}
	}

	switch len(res.Hits) {
	case 0:
	case 1:
		res.Tag = MatchSingle
	default:
		res.Tag = MatchMultiple
	}
	return res
}

func matchTier(q string, tokens []string, ev model.CalendarEvent) Tier {
	title := strings.ToLower(ev.Title)
	switch {
	case strings.Contains(title, q):
		return TierTitle
	case strings.Contains(strings.ToLower(ev.Description), q):
		return TierDescription
	case strings.Contains(strings.ToLower(ev.Location), q):
		return TierLocation
	}

	words := titleWords(title)
	for _, tok := range tokens {
		if _, ok := words[tok]; ok {
			return TierTitleWord
		}
	}
	return 0
}

func titleWords(title string) map[string]struct{} {
	fields := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}
