package civic

import (
	"context"
	"net/http"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/endpoint"
	"github.com/eshaffer321/civicreport-go/internal/messages"
	"github.com/eshaffer321/civicreport-go/internal/session"
	"github.com/eshaffer321/civicreport-go/internal/storage"
	"github.com/eshaffer321/civicreport-go/internal/transport"
	internalTypes "github.com/eshaffer321/civicreport-go/internal/types"
	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

const (
	// DefaultLocale for user-facing messages
	DefaultLocale = messages.DefaultLocale

	// DefaultMaxAssetSize caps the asset read for a multipart upload
	DefaultMaxAssetSize = 10 << 20

	// UserAgent is the user agent string
	UserAgent = internalTypes.UserAgent
)

// Client is the civic report access layer. Each client owns its endpoint
// cache and session; nothing is shared between clients.
type Client struct {
	// Service interfaces
	Reports  ReportService
	Auth     AuthService
	Users    UserService
	Sessions SessionService

	// Internal fields
	executor Executor
	resolver *endpoint.Resolver
	sessions *session.Reconciler
	store    storage.Store
	catalog  *messages.Catalog
	policy   RetryPolicy
	options  *ClientOptions
}

// ClientOptions configures the client
type ClientOptions struct {
	// Candidates are the backend hosts ("host" or "host:port") probed during discovery
	Candidates []string

	// DefaultPort applies to candidates without a port
	DefaultPort int

	// FallbackHost is probed only when no candidate answered, and only used
	// when it answers the health probe.
	FallbackHost string

	// ProbeTimeout bounds each health probe
	ProbeTimeout time.Duration

	// EndpointTTL is how long a discovered endpoint is reused
	EndpointTTL time.Duration

	// EndpointFailureThreshold is how many consecutive calls may exhaust
	// their retries against an endpoint before it is rediscovered; 1 when zero
	EndpointFailureThreshold int

	// RetryPolicy for every call; DefaultRetryPolicy when nil
	RetryPolicy *RetryPolicy

	// HTTPClient allows using a custom HTTP client
	HTTPClient *http.Client

	// Headers are sent with every call
	Headers map[string]string

	// DeviceID is sent as device-uuid; random per client when empty
	DeviceID string

	// Store persists the endpoint cache and session; in-memory when nil.
	// The client closes it on Close.
	Store storage.Store

	// Logger for debug logging
	Logger Logger

	// RateLimiter for rate limiting
	RateLimiter RateLimiter

	// Hooks for observability
	Hooks *Hooks

	// Locale selects the user-facing message catalog
	Locale string

	// PlaceholderUserID is the id stored before any real login
	PlaceholderUserID string

	// AssetOpener reads report assets; OpenAsset when nil
	AssetOpener AssetOpener

	// MaxAssetSize caps asset uploads; larger assets are dropped
	MaxAssetSize int64

	// SentryDSN enables Sentry error tracking when set
	SentryDSN string

	// SentryOptions allows custom Sentry configuration
	SentryOptions *sentry.ClientOptions
}

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// NewClient creates a new client
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	// Initialize Sentry if DSN is provided
	if opts.SentryDSN != "" || opts.SentryOptions != nil {
		sentryOpts := sentry.ClientOptions{}

		// Use provided options if available, otherwise create new ones
		if opts.SentryOptions != nil {
			sentryOpts = *opts.SentryOptions
		}

		// Override DSN if provided separately
		if opts.SentryDSN != "" {
			sentryOpts.Dsn = opts.SentryDSN
		}

		// Set default environment if not provided
		if sentryOpts.Environment == "" {
			sentryOpts.Environment = "production"
		}

		// Initialize Sentry
		if err := sentry.Init(sentryOpts); err != nil {
			// Log error but don't fail client creation
			if opts.Logger != nil {
				opts.Logger.Error("Failed to initialize Sentry", "error", err)
			}
		}
	}

	policy := DefaultRetryPolicy
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	if err := policy.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidRequest, err.Error())
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.Locale == "" {
		opts.Locale = DefaultLocale
	}
	if opts.AssetOpener == nil {
		opts.AssetOpener = OpenAsset
	}
	if opts.MaxAssetSize <= 0 {
		opts.MaxAssetSize = DefaultMaxAssetSize
	}

	resolver, err := endpoint.New(&endpoint.Options{
		Candidates:   opts.Candidates,
		DefaultPort:  opts.DefaultPort,
		FallbackHost: opts.FallbackHost,
		ProbeTimeout: opts.ProbeTimeout,
		TTL:          opts.EndpointTTL,
		HTTPClient:   opts.HTTPClient,
		Store:        opts.Store,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure endpoint discovery")
	}

	sessions := session.New(&session.Options{
		Store:          opts.Store,
		Logger:         opts.Logger,
		PlaceholderID:  opts.PlaceholderUserID,
		OnStorageError: captureStorageError,
	})

	exec := transport.NewExecutor(&transport.Options{
		Resolver:   resolver,
		HTTPClient: opts.HTTPClient,
		Headers:    opts.Headers,
		Token:      sessions.Token,
		DeviceID:   opts.DeviceID,
		Logger:     opts.Logger,
		Hooks:      opts.Hooks,

		FailureThreshold: opts.EndpointFailureThreshold,
	})

	c := &Client{
		executor: exec,
		resolver: resolver,
		sessions: sessions,
		store:    opts.Store,
		catalog:  messages.NewCatalog(),
		policy:   policy,
		options:  opts,
	}

	// Initialize services
	c.initServices()

	// Pick up whoever was signed in last
	if s := sessions.Load(context.Background()); s != nil && opts.Logger != nil {
		opts.Logger.Debug("Restored session", "userId", s.UserID)
	}

	return c, nil
}

// initServices initializes all service implementations
func (c *Client) initServices() {
	c.Reports = &reportService{client: c}
	c.Auth = &authService{client: c}
	c.Users = &userService{client: c}
	c.Sessions = c.sessions
}

// Execute performs a generic backend call with the client's retry policy
func (c *Client) Execute(ctx context.Context, req *Request) *Outcome {
	return c.execute(ctx, req, c.policy)
}

// ExecuteWithPolicy performs a generic backend call with a specific policy
func (c *Client) ExecuteWithPolicy(ctx context.Context, req *Request, policy RetryPolicy) *Outcome {
	return c.execute(ctx, req, policy)
}

// ResolveEndpoint returns the current backend endpoint, probing if needed
func (c *Client) ResolveEndpoint(ctx context.Context) (*Endpoint, error) {
	return c.resolver.Resolve(ctx)
}

// InvalidateEndpoint forces the next call to rediscover the backend
func (c *Client) InvalidateEndpoint() {
	c.resolver.Invalidate()
}

// Health checks that the resolved backend answers its health endpoint
func (c *Client) Health(ctx context.Context) error {
	out := c.execute(ctx, &Request{Method: http.MethodGet, Path: internalTypes.HealthPath}, c.policy)
	return out.Err()
}

// Locale returns the locale used for user-facing messages
func (c *Client) Locale() string {
	return c.options.Locale
}

// Message returns the user-facing sentence for a failure kind
func (c *Client) Message(kind Kind) string {
	return c.catalog.ForKind(c.options.Locale, kind)
}

// execute runs one logical call and reports unexpected failures
func (c *Client) execute(ctx context.Context, req *Request, policy RetryPolicy) *Outcome {
	out := c.send(ctx, req, policy)
	c.capture(ctx, req, out)
	return out
}

// send runs one logical call through the rate limiter and executor. Callers
// that can recover from a failure report it themselves.
func (c *Client) send(ctx context.Context, req *Request, policy RetryPolicy) *Outcome {
	// Rate limiting
	if c.options.RateLimiter != nil {
		if err := c.options.RateLimiter.Wait(ctx); err != nil {
			kind := KindUnknown
			if errors.Is(err, context.DeadlineExceeded) {
				kind = KindTimeout
			}
			return &Outcome{Failure: internalTypes.NewFailure(kind, "rate limiter", err)}
		}
	}

	return c.executor.Execute(ctx, req, policy)
}

// capture reports unexpected failures to Sentry. Outcomes the backend
// meant to send, such as validation errors, are not reported.
func (c *Client) capture(ctx context.Context, req *Request, out *Outcome) {
	if out == nil || out.Failure == nil || !reportable(out.Failure.Kind) {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	method, path := "", ""
	if req != nil {
		method, path = req.Method, req.Path
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("civic.kind", string(out.Failure.Kind))
		scope.SetTag("http.method", method)
		scope.SetContext("request", map[string]interface{}{
			"path":     path,
			"attempts": out.Attempts,
			"status":   out.Failure.StatusCode,
		})
		hub.CaptureException(out.Failure)
	})
}

// breadcrumb records a recovered failure on the hub so it travels with any
// event captured later.
func (c *Client) breadcrumb(ctx context.Context, category string, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  err.Error(),
		Level:    sentry.LevelWarning,
		Data:     map[string]interface{}{"kind": string(KindOf(err))},
	}, nil)
}

func reportable(kind Kind) bool {
	switch kind {
	case KindValidation, KindDuplicate, KindUnauthorized, KindNotFound:
		return false
	}
	return true
}

func captureStorageError(op string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session.op", op)
		sentry.CaptureException(err)
	})
}

// Close flushes any pending Sentry events and closes the store
func (c *Client) Close() error {
	// Flush Sentry events with a 2 second timeout
	sentry.Flush(2 * time.Second)
	return c.store.Close()
}
