package types

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Session is the canonical identity of the signed-in citizen
type Session struct {
	UserID        string    `json:"userId"`
	DisplayName   string    `json:"displayName"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	Token         string    `json:"token"`
	LoginTime     time.Time `json:"loginTime"`
}

// Logger interface for logging
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Hooks provides lifecycle hooks for requests
type Hooks struct {
	OnRequest  func(ctx context.Context, req *http.Request)
	OnResponse func(ctx context.Context, resp *http.Response, duration time.Duration)
	OnError    func(ctx context.Context, err error)
}

// Endpoint is a discovered backend host/port pair
type Endpoint struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	DiscoveredAt time.Time     `json:"discoveredAt"`
	TTL          time.Duration `json:"ttl"`
}

// Addr returns host:port
func (e *Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// BaseURL returns the API root for the endpoint
func (e *Endpoint) BaseURL() string {
	return "http://" + e.Addr() + APIPrefix
}

// Expired reports whether the endpoint is older than its TTL at now
func (e *Endpoint) Expired(now time.Time) bool {
	return now.Sub(e.DiscoveredAt) > e.TTL
}

// RetryPolicy configures the retry loop of a single logical call
type RetryPolicy struct {
	MaxAttempts       int           `json:"maxAttempts" yaml:"max_attempts"`
	BaseDelay         time.Duration `json:"baseDelay" yaml:"base_delay"`
	Multiplier        float64       `json:"multiplier" yaml:"multiplier"`
	TimeoutPerAttempt time.Duration `json:"timeoutPerAttempt" yaml:"timeout_per_attempt"`
}

// DefaultRetryPolicy is used when no policy is supplied
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:       3,
	BaseDelay:         500 * time.Millisecond,
	Multiplier:        2,
	TimeoutPerAttempt: 15 * time.Second,
}

// Validate checks the policy invariants
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: maxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy: multiplier must be >= 1, got %g", p.Multiplier)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry policy: baseDelay must not be negative")
	}
	if p.TimeoutPerAttempt <= 0 {
		return fmt.Errorf("retry policy: timeoutPerAttempt must be positive")
	}
	return nil
}

// Delay returns the wait before attempt n+1 (n is 1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1)))
}

// Request describes one logical backend call
type Request struct {
	Method        string
	Path          string // relative to the API root, e.g. "/reports"
	Body          []byte
	ContentType   string
	Header        http.Header
	Authenticated bool
}

// Outcome is the result of a logical call: a body on success or a Failure.
type Outcome struct {
	Body       []byte
	StatusCode int
	Attempts   int
	Failure    *Failure
}

// OK reports whether the call succeeded
func (o *Outcome) OK() bool {
	return o != nil && o.Failure == nil
}

// Err returns the failure as an error, or nil on success
func (o *Outcome) Err() error {
	if o == nil || o.Failure == nil {
		return nil
	}
	return o.Failure
}
