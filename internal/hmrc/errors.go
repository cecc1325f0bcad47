package hmrc

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for calls to HMRC.
type ErrorCategory string

const (
	// CategoryTransient is a 5xx from HMRC. Only this category is retried.
	CategoryTransient ErrorCategory = "transient"

	// CategoryRejected is any other non-success response or transport failure.
	CategoryRejected ErrorCategory = "rejected"

	// CategoryAuthentication is a 401/403; the bearer token or client credentials were refused.
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryMalformed means a 2xx body could not be used.
	CategoryMalformed ErrorCategory = "malformed"

	// CategoryExhausted means every permitted attempt failed transiently.
	CategoryExhausted ErrorCategory = "exhausted"

	// CategoryTimeout covers per-attempt timeouts and the overall retry deadline.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryInternal is a local failure before anything was sent.
	CategoryInternal ErrorCategory = "internal"
)

// Operation names the call that failed.
type Operation string

const (
	OperationToken  Operation = "token"
	OperationVerify Operation = "verify"
)

// VerifierError wraps HMRC failures with a normalized category.
type VerifierError struct {
	Category   ErrorCategory
	Operation  Operation
	StatusCode int // zero when no response was received
	Attempts   int
	Message    string
	Underlying error
}

func (e *VerifierError) Error() string {
	msg := fmt.Sprintf("hmrc %s [%s]: %s", e.Operation, e.Category, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *VerifierError) Unwrap() error {
	return e.Underlying
}

func newError(op Operation, category ErrorCategory, status int, message string, underlying error) *VerifierError {
	return &VerifierError{
		Category:   category,
		Operation:  op,
		StatusCode: status,
		Message:    message,
		Underlying: underlying,
	}
}

// categoryForStatus classifies a non-2xx status code.
func categoryForStatus(status int) ErrorCategory {
	switch {
	case status >= 500:
		return CategoryTransient
	case status == 401 || status == 403:
		return CategoryAuthentication
	default:
		return CategoryRejected
	}
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	return GetCategory(err) == CategoryTransient
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var ve *VerifierError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return CategoryInternal
}

// Attempts returns how many calls were made before err was produced, or zero.
func Attempts(err error) int {
	var ve *VerifierError
	if errors.As(err, &ve) {
		return ve.Attempts
	}
	return 0
}
