package types

import (
	"fmt"
	"strings"
)

// Kind classifies why a request failed
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindNetworkUnreachable Kind = "network_unreachable"
	KindUnauthorized       Kind = "unauthorized"
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation_error"
	KindServerError        Kind = "server_error"
	KindDuplicate          Kind = "duplicate"
	KindUnknown            Kind = "unknown"
)

// Transient reports whether retrying could change the outcome.
func (k Kind) Transient() bool {
	return k == KindTimeout || k == KindNetworkUnreachable
}

// Sentinel returns the sentinel error matching the kind
func (k Kind) Sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindNetworkUnreachable:
		return ErrNetworkUnreachable
	case KindUnauthorized:
		return ErrUnauthorized
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindServerError:
		return ErrServerError
	case KindDuplicate:
		return ErrDuplicate
	default:
		return ErrUnknown
	}
}

// Failure is the failed half of an Outcome. It is a plain value; callers
// decide whether to surface it.
type Failure struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Err        error  `json:"-"` // lower-level cause (net.Error, ErrNoEndpoint, ...)
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if f.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", f.StatusCode)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Err != nil && f.Err.Error() != f.Message {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (f *Failure) Unwrap() []error {
	if f.Err != nil {
		return []error{f.Kind.Sentinel(), f.Err}
	}
	return []error{f.Kind.Sentinel()}
}

// NewFailure builds a failure of the given kind
func NewFailure(kind Kind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}
