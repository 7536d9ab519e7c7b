// Package calerr defines the error taxonomy shared by the engine, the store
// adapters and the entry points.
package calerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation marks malformed caller input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks a request whose shape is wrong (for example a
	// recurrence frequency without a count), as opposed to bad data values.
	// Every configuration error is also a validation error.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound means the identifier does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable covers transport failures and 5xx/429 responses.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreAuth means credentials are missing, expired or rejected.
	ErrStoreAuth = errors.New("store authentication failed")
	// ErrStoreValidation means the store rejected the payload.
	ErrStoreValidation = errors.New("store rejected payload")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field         string
	Reason        string
	Configuration bool
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return e.Configuration && target == ErrConfiguration
}

// Invalid returns a data ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Misconfigured returns a configuration ValidationError.
func Misconfigured(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...), Configuration: true}
}

// StoreError carries enough context for a caller to decide whether to retry.
type StoreError struct {
	Op    string
	ID    string
	Start time.Time
	End   time.Time
	Kind  error
	Err   error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString("store ")
	b.WriteString(e.Op)
	if e.ID != "" {
		b.WriteString(" id=")
		b.WriteString(e.ID)
	}
	if !e.Start.IsZero() || !e.End.IsZero() {
		b.WriteString(" window=")
		b.WriteString(e.Start.Format(time.RFC3339))
		b.WriteString("..")
		b.WriteString(e.End.Format(time.RFC3339))
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		if e.Kind != nil {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Retryable reports whether err is a transient store failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// UserMessage turns any error into text that is safe to show an end user.
// Unclassified failures collapse to a generic message; the caller is
// expected to log the cause.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, ErrNotFound):
		return "Event not found. It may have already been deleted."
	case errors.Is(err, ErrStoreUnavailable):
		return "The calendar is temporarily unavailable. Please try again later."
	case errors.Is(err, ErrStoreAuth):
		return "Calendar access is not authorized. Please re-authenticate."
	case errors.Is(err, ErrStoreValidation):
		return "The calendar rejected the event details."
	default:
		return "Could not complete the request."
	}
}
