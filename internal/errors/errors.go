package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

// Base error types
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// ErrorType represents the category of a source error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeMalformed    ErrorType = "malformed"
	ErrorTypeVerification ErrorType = "verification"
	ErrorTypeConfig       ErrorType = "config"
)

// SourceError is a structured error for claim source operations
type SourceError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "read", "verify")
	Source    string // Source location, such as a document path
	Err       error  // Underlying error
	Timestamp time.Time
	Retryable bool
}

func (e *SourceError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *SourceError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrInvalidInput:
		return e.Type == ErrorTypeMalformed || e.Type == ErrorTypeConfig
	case ensure.ErrVerification:
		return e.Type == ErrorTypeVerification
	case ensure.ErrUnrecoverable:
		// Only a broken configuration stops the refresh loop for good.
		return e.Type == ErrorTypeConfig
	}

	return errors.Is(e.Err, target)
}

// NewSourceError creates a new SourceError
func NewSourceError(errorType ErrorType, op, source string, err error) *SourceError {
	return &SourceError{
		Type:      errorType,
		Op:        op,
		Source:    source,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// isRetryable determines if a later attempt can succeed without a change
// to the configuration
func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNotFound, ErrorTypeIO, ErrorTypeMalformed:
		return true
	default: // ErrorTypeVerification, ErrorTypeConfig
		return false
	}
}

// Helper functions

// WrapReadError classifies a failed read of a source location.
func WrapReadError(op, source string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return NewSourceError(ErrorTypeNotFound, op, source, err)
	}
	return NewSourceError(ErrorTypeIO, op, source, err)
}

// WrapVerificationError wraps a failed trust check.
func WrapVerificationError(op, source string, err error) error {
	return NewSourceError(ErrorTypeVerification, op, source, err)
}

// WrapMalformedError wraps content that could not be decoded.
func WrapMalformedError(op, source string, err error) error {
	return NewSourceError(ErrorTypeMalformed, op, source, err)
}

// WrapConfigError wraps a source that can never work as configured.
func WrapConfigError(op, source string, err error) error {
	return NewSourceError(ErrorTypeConfig, op, source, err)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		return srcErr.Retryable
	}
	return !errors.Is(err, ensure.ErrUnrecoverable) && !errors.Is(err, ensure.ErrVerification)
}
