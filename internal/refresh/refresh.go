// Package refresh keeps the calendar cache warm on a cron schedule so the
// first request after a quiet period does not pay for a remote fetch.
package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"calagent/internal/assistant"
	appLog "calagent/internal/log"
)

// Task is one refresh run.
type Task func(ctx context.Context) error

// Scheduler runs a Task on a standard five-field cron spec.
type Scheduler struct {
	spec  string
	loc   *time.Location
	task  Task
	runs  atomic.Int64
	fails atomic.Int64
}

func New(spec string, loc *time.Location, task Task) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{spec: spec, loc: loc, task: task}, nil
}

// Run blocks until ctx is cancelled, then waits for an in-flight run.
// Overlapping runs are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(s.spec, func() { _ = s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}

	appLog.Info("refresh scheduler started", "spec", s.spec, "timezone", s.loc.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("refresh scheduler stopped", "runs", s.runs.Load(), "failures", s.fails.Load())
	return nil
}

// RunOnce runs the task immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()
	s.runs.Add(1)
	if err := s.task(ctx); err != nil {
		s.fails.Add(1)
		appLog.Error("refresh failed", err, "elapsed", time.Since(start).String())
		return err
	}
	appLog.Debug("refresh done", "elapsed", time.Since(start).String())
	return nil
}

func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Warmup lists today plus the next days-1 days, which fills the store
// cache for the window most requests ask about.
func Warmup(svc *assistant.Service, days int) Task {
	if days < 1 {
		days = 1
	}
	return func(ctx context.Context) error {
		now := svc.Now()
		from, to := svc.DayWindow(now, now.AddDate(0, 0, days-1))
		agenda, err := svc.ListEvents(ctx, from, to)
		if err != nil {
			return err
		}
		appLog.Debug("calendar warmed", "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly), "events", len(agenda.Events))
		return nil
	}
}

// cronLogger routes cron's own messages to the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) { appLog.Debug("cron: "+msg, kv...) }

func (cronLogger) Error(err error, msg string, kv ...any) { appLog.Error("cron: "+msg, err, kv...) }
