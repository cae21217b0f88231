package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed tenant, role, query or document input.
	// Raised before any external call is made.
	ErrValidation = errors.New("validation failed")

	// ErrScopeViolation indicates a read or write without a complete tenant/role scope
	ErrScopeViolation = errors.New("scope violation")

	// ErrUpstreamTimeout indicates an external capability exceeded its time bound.
	// Callers may retry with backoff.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamMalformedResponse indicates generation output could not be parsed
	ErrUpstreamMalformedResponse = errors.New("upstream malformed response")

	// ErrIndexInconsistency indicates an upsert batch failed and its chunks are not indexed
	ErrIndexInconsistency = errors.New("index inconsistency")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")

	// ErrLockNotAcquired indicates another process holds the lock
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrServiceUnavailable indicates a capability could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInvalidProvider indicates an unsupported AI provider for a capability
	ErrInvalidProvider = errors.New("invalid provider")
)

// ErrorKind classifies a PipelineError.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindScopeViolation    ErrorKind = "scope_violation"
	KindUpstreamTimeout   ErrorKind = "upstream_timeout"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindIndex             ErrorKind = "index_inconsistency"
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:        ErrValidation,
	KindScopeViolation:    ErrScopeViolation,
	KindUpstreamTimeout:   ErrUpstreamTimeout,
	KindMalformedResponse: ErrUpstreamMalformedResponse,
	KindIndex:             ErrIndexInconsistency,
}

// PipelineError carries the failing operation alongside a sentinel kind.
// Messages must never include document or conversation content.
type PipelineError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *PipelineError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Retryable reports whether the caller may retry the operation.
func (e *PipelineError) Retryable() bool {
	return e.Kind == KindUpstreamTimeout
}

// NewValidationError reports malformed input.
func NewValidationError(op, format string, args ...any) error {
	return &PipelineError{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewScopeViolation reports a missing tenant or role.
func NewScopeViolation(op, message string) error {
	return &PipelineError{Kind: KindScopeViolation, Op: op, Message: message}
}

// NewUpstreamTimeout reports an external call that exceeded its bound.
func NewUpstreamTimeout(op string, err error) error {
	return &PipelineError{Kind: KindUpstreamTimeout, Op: op, Err: err}
}

// NewMalformedResponse reports unparseable generation output.
func NewMalformedResponse(op string, err error) error {
	return &PipelineError{Kind: KindMalformedResponse, Op: op, Err: err}
}

// NewIndexInconsistency reports a failed upsert batch.
func NewIndexInconsistency(op, message string, err error) error {
	return &PipelineError{Kind: KindIndex, Op: op, Message: message, Err: err}
}

// IsRetryable reports whether err (or anything it wraps) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
