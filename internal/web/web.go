package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"calagent/internal/assistant"
	"calagent/internal/calerr"
	"calagent/internal/config"
	appLog "calagent/internal/log"
	"calagent/internal/model"
)

// Server exposes the assistant operations as a JSON API.
type Server struct {
	svc    *assistant.Service
	listen string
	auth   *config.BasicAuthConfig
	mux    *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(svc *assistant.Service, cfg *config.Config) *Server {
	s := &Server{
		svc:    svc,
		listen: cfg.Listen,
		auth:   cfg.BasicAuth,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	return s.auth != nil && s.auth.Username != "" && s.auth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.auth.Username
	password := s.auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calagent", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/now", s.handleNow)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("POST /api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("POST /api/slots", s.handleSlots)
	s.mux.HandleFunc("POST /api/recurrence/preview", s.handleRecurrencePreview)
	s.mux.HandleFunc("POST /api/delete", s.handleDelete)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleNow(w http.ResponseWriter, _ *http.Request) {
	now := s.svc.Now()
	writeJSON(w, http.StatusOK, nowResponse{
		Now:      now,
		Timezone: s.svc.Location().String(),
		Weekday:  now.Weekday().String(),
		Message:  assistant.DescribeNow(now),
	})
}

// handleListEvents returns the agenda for a range of local days.
//
// GET /api/events?from=2025-01-16&to=2025-01-18
//   - from: first day (default today)
//   - to:   last day, inclusive (default from)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.svc.Location()

	first := s.svc.Now()
	if v := q.Get("from"); v != "" {
		d, err := assistant.ParseDate(v, loc)
		if err != nil {
			writeFailure(w, err)
			return
		}
		first = d
	}
	last := first
	if v := q.Get("to"); v != "" {
		d, err := assistant.ParseDate(v, loc)
		if err != nil {
			writeFailure(w, err)
			return
		}
		last = d
	}

	from, to := s.svc.DayWindow(first, last)
	agenda, err := s.svc.ListEvents(r.Context(), from, to)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agendaResponse{
		From:      agenda.From,
		To:        agenda.To,
		Events:    toEventDTOs(agenda.Events),
		Truncated: agenda.Truncated,
		Message:   assistant.FormatAgenda(agenda),
	})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toRequest(s.svc)
	if err != nil {
		writeFailure(w, err)
		return
	}

	res, err := s.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := createResponse{
		Outcome:     string(res.Outcome),
		Event:       toEventDTO(res.Event),
		Conflicts:   toEventDTOs(res.Conflicts),
		Rule:        res.Rule,
		Occurrences: toIntervalDTOs(res.Occurrences),
		Message:     assistant.DescribeCreate(res),
	}
	status := http.StatusOK
	if res.Outcome == assistant.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	var body intervalRequest
	if !decodeBody(w, r, &body) {
		return
	}
	iv, err := body.toInterval(s.svc)
	if err != nil {
		writeFailure(w, err)
		return
	}

	conflicts, err := s.svc.CheckConflicts(r.Context(), iv)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflictsResponse{
		Candidate: toIntervalDTO(iv),
		Conflicts: toEventDTOs(conflicts),
	})
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	var body slotRequest
	if !decodeBody(w, r, &body) {
		return
	}
	q, err := body.toQuery(s.svc)
	if err != nil {
		writeFailure(w, err)
		return
	}

	res, err := s.svc.FindSlot(r.Context(), q)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := slotResponse{Found: res.Found}
	if res.Found {
		slot := toIntervalDTO(res.Slot)
		resp.Slot = &slot
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecurrencePreview(w http.ResponseWriter, r *http.Request) {
	var body previewRequest
	if !decodeBody(w, r, &body) {
		return
	}
	base, err := body.toInterval(s.svc)
	if err != nil {
		writeFailure(w, err)
		return
	}

	occ, rule, err := s.svc.PreviewRecurrence(base, body.Frequency, body.Count)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Rule: rule, Occurrences: toIntervalDTOs(occ)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var body deleteRequest
	if !decodeBody(w, r, &body) {
		return
	}

	res, err := s.svc.Delete(r.Context(), assistant.DeletionRequest{
		Search:          body.Search,
		EventID:         body.EventID,
		Confirm:         body.Confirm,
		PriorCandidates: body.PriorCandidates,
	})
	if err != nil && res.State == assistant.StateIdle {
		writeFailure(w, err)
		return
	}

	resp := deleteResponse{
		State:   string(res.State),
		Query:   res.Query,
		Message: assistant.DescribeDeletion(res),
	}
	for _, h := range res.Candidates {
		resp.Candidates = append(resp.Candidates, candidateDTO{Event: toEventDTO(h.Event), Match: h.Tier.String()})
	}
	if res.Event != nil {
		ev := toEventDTO(*res.Event)
		resp.Event = &ev
	}
	writeJSON(w, statusFor(err), resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP statuses. nil is 200.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, calerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, calerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calerr.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, calerr.ErrStoreAuth), errors.Is(err, calerr.ErrStoreValidation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs unexpected errors and answers with the user-safe text.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "status", status)
	}
	writeError(w, status, calerr.UserMessage(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func toEventDTO(ev model.CalendarEvent) eventDTO {
	return eventDTO{
		ID:          ev.ID,
		Title:       ev.DisplayTitle(),
		Start:       ev.Start(),
		End:         ev.End(),
		AllDay:      ev.IsAllDay(),
		Description: ev.Description,
		Location:    ev.Location,
		Attendees:   ev.Attendees,
		Link:        ev.Link,
		Recurrence:  ev.Recurrence,
	}
}

func toEventDTOs(events []model.CalendarEvent) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventDTO(ev))
	}
	return out
}

func toIntervalDTO(iv model.TimeInterval) intervalDTO {
	return intervalDTO{Start: iv.Start, End: iv.End, AllDay: iv.IsAllDay()}
}

func toIntervalDTOs(ivs []model.TimeInterval) []intervalDTO {
	out := make([]intervalDTO, 0, len(ivs))
	for _, iv := range ivs {
		out = append(out, toIntervalDTO(iv))
	}
	return out
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
