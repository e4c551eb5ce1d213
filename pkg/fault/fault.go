// Package fault defines the typed error taxonomy shared by the finsight core.
//
// Ingestion paths return these errors to callers. Query paths classify them
// with Kind and degrade to empty results instead.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout matches any TimeoutError via errors.Is.
var ErrTimeout = errors.New("operation timed out")

// Error kinds reported by Kind.
const (
	KindValidation          = "validation"
	KindProviderUnavailable = "provider_unavailable"
	KindIndexInconsistency  = "index_inconsistency"
	KindTimeout             = "timeout"
	KindInternal            = "internal"
)

// ValidationError reports malformed caller input. No work is performed when
// one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderUnavailableError reports that an embedding or generation provider
// could not serve a request.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}

// IndexInconsistencyError reports that the document store and the vector
// index disagree about an id.
type IndexInconsistencyError struct {
	ID     string
	Detail string
}

func (e *IndexInconsistencyError) Error() string {
	return fmt.Sprintf("index inconsistency for %q: %s", e.ID, e.Detail)
}

// TimeoutError reports an external call that exceeded its budget.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Unavailable wraps err as a ProviderUnavailableError. Deadline errors become
// TimeoutErrors so callers can tell a slow provider from a broken one.
func Unavailable(provider string, err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: provider, Err: err}
	}
	return &ProviderUnavailableError{Provider: provider, Err: err}
}

// Timeout wraps err as a TimeoutError for op.
func Timeout(op string, err error) error {
	return &TimeoutError{Op: op, Err: err}
}

// Inconsistent builds an IndexInconsistencyError.
func Inconsistent(id, format string, args ...any) error {
	return &IndexInconsistencyError{ID: id, Detail: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsUnavailable(err error) bool {
	var target *ProviderUnavailableError
	return errors.As(err, &target)
}

func IsInconsistency(err error) bool {
	var target *IndexInconsistencyError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Kind classifies err into one of the Kind* constants.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return KindValidation
	case IsTimeout(err):
		return KindTimeout
	case IsUnavailable(err):
		return KindProviderUnavailable
	case IsInconsistency(err):
		return KindIndexInconsistency
	default:
		return KindInternal
	}
}
