package civic

import (
	"errors"
	"fmt"

	"github.com/eshaffer321/civicreport-go/internal/messages"
	internalTypes "github.com/eshaffer321/civicreport-go/internal/types"
)

var (
	// ErrTimeout is matched by timed-out calls
	ErrTimeout = internalTypes.ErrTimeout

	// ErrNetworkUnreachable is matched by connectivity failures
	ErrNetworkUnreachable = internalTypes.ErrNetworkUnreachable

	// ErrUnauthorized is matched by rejected credentials or expired sessions
	ErrUnauthorized = internalTypes.ErrUnauthorized

	// ErrNotFound is returned when resource not found
	ErrNotFound = internalTypes.ErrNotFound

	// ErrValidation is matched by field-level rejections
	ErrValidation = internalTypes.ErrValidation

	// ErrServerError is returned for server errors
	ErrServerError = internalTypes.ErrServerError

	// ErrDuplicate is matched when the resource already exists
	ErrDuplicate = internalTypes.ErrDuplicate

	// ErrNoEndpoint is returned when no backend host answered discovery
	ErrNoEndpoint = internalTypes.ErrNoEndpoint

	// ErrInvalidRequest is returned for invalid requests
	ErrInvalidRequest = internalTypes.ErrInvalidRequest

	// ErrNoSession is returned when an operation needs a signed-in user
	ErrNoSession = internalTypes.ErrNoSession
)

// Error represents an SDK-side error that did not come from the backend
type Error struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"statusCode"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches target
func (e *Error) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}

	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Code == t.Code
}

// WrapError wraps an error with additional context
func WrapError(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the failure kind carried by err, or KindUnknown
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// IsAuthError checks if error is authentication related
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoSession)
}

// IsRetryable checks if error is retryable
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetworkUnreachable)
}

// UserMessage turns err into one of the fixed user-facing sentences for
// locale. Raw transport detail never appears in the result.
func UserMessage(err error, locale string) string {
	if errors.Is(err, ErrNoSession) {
		return messages.ForKind(locale, KindUnauthorized)
	}
	return messages.ForKind(locale, KindOf(err))
}
