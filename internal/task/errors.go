package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrCancelled         = errors.New("download cancelled")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrShuttingDown      = errors.New("downloader is shutting down")
)

type FieldError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ValidationError lists every rejected field of a submission.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Name+": "+fe.Reason)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, fe := range e.Errors {
		errs = append(errs, fmt.Errorf("%s: %s", fe.Name, fe.Reason))
	}
	return errs
}

func newValidationError(name, reason string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Name: name, Reason: reason}}}
}

// validationFromOzzo flattens nested ozzo errors into dotted field names.
func validationFromOzzo(errs validation.Errors) *ValidationError {
	ve := &ValidationError{Errors: make([]FieldError, 0, len(errs))}
	ve.collect("", errs)
	sort.Slice(ve.Errors, func(i, j int) bool { return ve.Errors[i].Name < ve.Errors[j].Name })
	return ve
}

func (e *ValidationError) collect(prefix string, errs validation.Errors) {
	for field, fieldErr := range errs {
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}
		var nested validation.Errors
		if errors.As(fieldErr, &nested) {
			e.collect(name, nested)
			continue
		}
		e.Errors = append(e.Errors, FieldError{Name: name, Reason: fieldErr.Error()})
	}
}

// NotFoundError names the unknown task ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("task %s not found", e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrTaskNotFound }

// FetchError is the failure of one download attempt. ExitCode is -1 when
// the downloader did not run to completion.
type FetchError struct {
	Attempt  int
	ExitCode int
	Stderr   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindRateLimited
	KindCancelled
	KindFetch
	KindShuttingDown
)

// KindOf classifies err for callers that map errors to responses.
func KindOf(err error) Kind {
	var (
		ve *ValidationError
		fe *FetchError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrTaskNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimitExceeded):
		return KindRateLimited
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrShuttingDown):
		return KindShuttingDown
	case errors.As(err, &fe):
		return KindFetch
	default:
		return KindInternal
	}
}
