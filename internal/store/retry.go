package store

import (
	"context"
	"time"

	"calagent/internal/calerr"
	appLog "calagent/internal/log"
	"calagent/internal/model"
)

// RetryPolicy is the explicit retry strategy applied at the adapter
// boundary. Only ErrStoreUnavailable is retried; validation, auth and
// not-found errors are returned on the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// Backoff overrides the exponential curve when set. attempt starts at 1.
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy is three attempts starting at 300ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 300 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Delay returns the wait before retry number attempt (1 = first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempt)
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	out := time.Duration(d)
	if p.MaxDelay > 0 && out > p.MaxDelay {
		out = p.MaxDelay
	}
	return out
}

// Retrying wraps a Store with a RetryPolicy.
type Retrying struct {
	next   Store
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func WithRetry(next Store, policy RetryPolicy) *Retrying {
	return &Retrying{next: next, policy: policy.normalized(), sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !calerr.Retryable(err) {
			return err
		}
		last = err
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := r.policy.Delay(attempt)
		appLog.Warn("store call failed; retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return last
}

func (r *Retrying) FetchEvents(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	var out []model.CalendarEvent
	err := r.do(ctx, "fetch", func() error {
		var err error
		out, err = r.next.FetchEvents(ctx, start, end)
		return err
	})
	return out, err
}

func (r *Retrying) InsertEvent(ctx context.Context, ev model.CalendarEvent, rule string) (Inserted, error) {
	var out Inserted
	err := r.do(ctx, "insert", func() error {
		var err error
		out, err = r.next.InsertEvent(ctx, ev, rule)
		return err
	})
	return out, err
}

func (r *Retrying) GetEvent(ctx context.Context, id string) (model.CalendarEvent, error) {
	var out model.CalendarEvent
	err := r.do(ctx, "get", func() error {
		var err error
		out, err = r.next.GetEvent(ctx, id)
		return err
	})
	return out, err
}

func (r *Retrying) DeleteEvent(ctx context.Context, id string) error {
	return r.do(ctx, "delete", func() error {
		return r.next.DeleteEvent(ctx, id)
	})
}
