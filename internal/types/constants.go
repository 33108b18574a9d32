package types

import (
	"errors"
	"time"
)

const (
	// DefaultPort is the backend port used when a candidate host carries none
	DefaultPort = 3000

	// DefaultProbeTimeout bounds a single health probe against one candidate
	DefaultProbeTimeout = 2 * time.Second

	// DefaultEndpointTTL is how long a discovered endpoint is trusted
	DefaultEndpointTTL = 10 * time.Minute

	// DefaultFailureThreshold is how many consecutive exhausted calls make an
	// endpoint stale
	DefaultFailureThreshold = 1

	// APIPrefix is prepended to every backend path
	APIPrefix = "/api"

	// HealthPath is probed during endpoint discovery
	HealthPath = "/health"

	// UserAgent is the user agent string
	UserAgent = "civicreport-go/1.0.0"
)

// Sentinel errors, one per failure kind, plus access-layer conditions.
var (
	ErrTimeout            = errors.New("request timed out")
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("resource not found")
	ErrValidation         = errors.New("validation failed")
	ErrServerError        = errors.New("server error")
	ErrDuplicate          = errors.New("resource already exists")
	ErrUnknown            = errors.New("unknown error")

	// ErrNoEndpoint is returned when no candidate host answered a probe
	ErrNoEndpoint = errors.New("cannot reach server")

	// ErrInvalidRequest marks malformed call construction
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoSession is returned when an operation needs an identity and none is stored
	ErrNoSession = errors.New("no session")
)
