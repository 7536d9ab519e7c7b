package calerr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorKinds(t *testing.T) {
	data := Invalid("count", "must be at least 1, got %d", 0)
	assert.ErrorIs(t, data, ErrValidation)
	assert.NotErrorIs(t, data, ErrConfiguration)
	assert.Equal(t, "count: must be at least 1, got 0", data.Error())

	cfg := Misconfigured("recurrence", "count is required when frequency is set")
	assert.ErrorIs(t, cfg, ErrValidation)
	assert.ErrorIs(t, cfg, ErrConfiguration)
}

func TestStoreErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	start := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	err := fmt.Errorf("fetch: %w", &StoreError{
		Op:    "fetch",
		Start: start,
		End:   start.Add(24 * time.Hour),
		Kind:  ErrStoreUnavailable,
		Err:   cause,
	})

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "window=2025-01-16T00:00:00Z..2025-01-17T00:00:00Z")

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fetch", se.Op)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation", err: Invalid("title", "must not be empty"), want: "title: must not be empty"},
		{name: "not_found", err: &StoreError{Op: "delete", ID: "x", Kind: ErrNotFound}, want: "Event not found. It may have already been deleted."},
		{name: "unavailable", err: &StoreError{Op: "fetch", Kind: ErrStoreUnavailable}, want: "The calendar is temporarily unavailable. Please try again later."},
		{name: "unknown", err: errors.New("panic: nil map"), want: "Could not complete the request."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, UserMessage(tc.err))
		})
	}
}
