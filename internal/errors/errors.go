// internal/errors/errors.go - Error taxonomy shared by the pool and the orchestrator
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrNoEgressAvailable is returned by selection when no enabled, healthy,
// quota-available egress point exists. Callers should back off and retry.
var ErrNoEgressAvailable = stderrors.New("no egress point available")

// ErrNoDataExtracted is the terminal reason of a task that finished without records.
var ErrNoDataExtracted = stderrors.New("no data extracted")

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return stderrors.New(text) }

// EgressError describes a connection or timeout failure through a specific egress point.
type EgressError struct {
	EgressID string
	Op       string
	Err      error
}

func (e *EgressError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("egress %s: %v", e.EgressID, e.Err)
	}
	return fmt.Sprintf("egress %s: %s: %v", e.EgressID, e.Op, e.Err)
}

func (e *EgressError) Unwrap() error { return e.Err }

// ExtractionError is an address-level failure: navigation, evaluation or empty selectors.
type ExtractionError struct {
	Address string
	Stage   string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Address, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// FieldError is a single validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Value != "" {
		return fmt.Sprintf("%s: %s (got %q)", f.Field, f.Message, f.Value)
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// ValidationError aggregates field errors for a rejected configuration.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

// Add records a field error.
func (v *ValidationError) Add(field, value, message string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Value: value, Message: message})
}

// HasErrors reports whether any field error was recorded.
func (v *ValidationError) HasErrors() bool { return len(v.Fields) > 0 }

// OrNil returns v as an error when it carries field errors, nil otherwise.
func (v *ValidationError) OrNil() error {
	if v == nil || !v.HasErrors() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, f.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsRetryable classifies errors that may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, ErrNoEgressAvailable) {
		return true
	}
	var egressErr *EgressError
	if stderrors.As(err, &egressErr) {
		return true
	}
	var validationErr *ValidationError
	if stderrors.As(err, &validationErr) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryableErrors := []string{
		"timeout", "connection refused", "connection reset", "no such host",
		"500", "502", "503", "504", "429",
		"temporary", "service unavailable", "deadline exceeded",
	}
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}
