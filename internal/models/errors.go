package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicate            = errors.New("duplicate")
	ErrCancelled            = errors.New("cancelled")
	ErrClassificationEmpty  = errors.New("classification returned no usable sections")
	ErrExtractionIncomplete = errors.New("extraction incomplete")
	ErrResultUnavailable    = errors.New("result unavailable")
	ErrResultNotStored      = errors.New("result could not be stored")
)

// ValidationError rejects an upload before it enters the pipeline. The caller
// can correct it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ParseError is a structural failure to read the file. It is fatal for the
// document.
type ParseError struct {
	Format Format
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("could not read %s file: %s: %v", e.Format, e.Reason, e.Cause)
	}
	return fmt.Sprintf("could not read %s file: %s", e.Format, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ExternalServiceError is a transient failure of a collaborator call.
type ExternalServiceError struct {
	Service string
	Op      string
	Cause   error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Cause)
}

func (e *ExternalServiceError) Unwrap() error { return e.Cause }

// SchemaViolation means the output generator produced an instance its own
// schema rejects. Never shown verbatim to callers.
type SchemaViolation struct {
	Detail string
	Cause  error
}

func (e *SchemaViolation) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("schema violation: %s: %v", e.Detail, e.Cause)
	}
	return "schema violation: " + e.Detail
}

func (e *SchemaViolation) Unwrap() error { return e.Cause }

// PipelineError is returned by the coordinator when a stage fails with no
// fallback. Partial holds whatever had been produced so far.
type PipelineError struct {
	DocumentID string
	Stage      Stage
	Cause      error
	Partial    *ProcessingRecord
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("document %s failed at stage %s: %v", e.DocumentID, e.Stage, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// PublicMessage is the caller-facing description. Internal schema failures
// are reported generically.
func (e *PipelineError) PublicMessage() string {
	var sv *SchemaViolation
	if errors.As(e.Cause, &sv) {
		return "internal error while formatting the result"
	}
	if errors.Is(e.Cause, ErrCancelled) {
		return "cancelled"
	}
	if errors.Is(e.Cause, ErrResultNotStored) {
		return "result could not be stored for export; resubmit the document"
	}
	return e.Cause.Error()
}

// IsRetryable reports whether err is worth another attempt: external service
// failures and per-attempt deadlines.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
