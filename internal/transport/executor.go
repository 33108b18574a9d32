package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/metrics"
	"github.com/eshaffer321/civicreport-go/internal/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

const (
	authHeaderKey      = "Authorization"
	requestIDHeaderKey = "X-Request-ID"
	deviceHeaderKey    = "device-uuid"
	contentType        = "application/json"

	// maxResponseSize caps how much of a response body is read
	maxResponseSize = 8 << 20
)

// Resolver supplies the current backend endpoint
type Resolver interface {
	Resolve(ctx context.Context) (*types.Endpoint, error)
	Invalidate()
}

// TokenSource returns the bearer token for authenticated calls, or ""
type TokenSource func() string

// Executor runs logical calls against the resolved backend with per-attempt
// timeouts, bounded exponential backoff and error classification.
type Executor struct {
	resolver   Resolver
	httpClient *http.Client
	headers    map[string]string
	token      TokenSource
	logger     types.Logger
	hooks      *types.Hooks

	// staleAfter consecutive exhausted calls against one endpoint mark it stale
	staleAfter int
	mu         sync.Mutex
	failedAddr string
	failures   int
}

// Options for the executor
type Options struct {
	Resolver   Resolver
	HTTPClient *http.Client
	Headers    map[string]string
	Token      TokenSource
	DeviceID   string
	Logger     types.Logger
	Hooks      *types.Hooks

	// FailureThreshold is how many consecutive logical calls may exhaust
	// their retries on a transient failure against the same endpoint before
	// the resolver is told to invalidate it. Defaults to 1.
	FailureThreshold int
}

// NewExecutor creates a new executor
func NewExecutor(opts *Options) *Executor {
	if opts == nil {
		opts = &Options{}
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	// Set default headers
	headers := map[string]string{
		"Accept":        contentType,
		"User-Agent":    types.UserAgent,
		deviceHeaderKey: deviceID,
	}

	// Merge custom headers
	for k, v := range opts.Headers {
		headers[k] = v
	}

	staleAfter := opts.FailureThreshold
	if staleAfter <= 0 {
		staleAfter = types.DefaultFailureThreshold
	}

	return &Executor{
		resolver:   opts.Resolver,
		httpClient: opts.HTTPClient,
		headers:    headers,
		token:      opts.Token,
		logger:     opts.Logger,
		hooks:      opts.Hooks,
		staleAfter: staleAfter,
	}
}

// Execute performs one logical call. It never returns nil; failures are
// reported in Outcome.Failure.
func (e *Executor) Execute(ctx context.Context, req *types.Request, policy types.RetryPolicy) *types.Outcome {
	if err := validate(req, policy); err != nil {
		return e.finish(ctx, &types.Outcome{Failure: types.NewFailure(types.KindUnknown, err.Error(), err)})
	}
	if e.resolver == nil {
		err := errors.Wrap(types.ErrInvalidRequest, "executor has no endpoint resolver")
		return e.finish(ctx, &types.Outcome{Failure: types.NewFailure(types.KindUnknown, err.Error(), err)})
	}

	ep, err := e.resolver.Resolve(ctx)
	if err != nil {
		return e.finish(ctx, &types.Outcome{Failure: asFailure(err)})
	}

	var body interface{}
	if len(req.Body) > 0 {
		body = req.Body
	}
	retryReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, ep.BaseURL()+req.Path, body)
	if err != nil {
		err = errors.Wrap(types.ErrInvalidRequest, err.Error())
		return e.finish(ctx, &types.Outcome{Failure: types.NewFailure(types.KindUnknown, "failed to create request", err)})
	}
	e.setHeaders(retryReq.Request, req)

	// Call request hook
	if e.hooks != nil && e.hooks.OnRequest != nil {
		e.hooks.OnRequest(ctx, retryReq.Request)
	}

	attempts := 0
	client := &retryablehttp.Client{
		HTTPClient:   e.attemptClient(policy.TimeoutPerAttempt),
		RetryWaitMin: policy.BaseDelay,
		RetryWaitMax: policy.Delay(policy.MaxAttempts),
		RetryMax:     policy.MaxAttempts - 1,
		CheckRetry:   checkRetry,
		Backoff: func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
			return policy.Delay(attemptNum + 1)
		},
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
		RequestLogHook: func(_ retryablehttp.Logger, r *http.Request, retry int) {
			attempts = retry + 1
			metrics.ObserveAttempt(r.Method)
			e.debug("Request attempt", "method", r.Method, "url", r.URL.String(), "attempt", attempts)
		},
	}
	if e.logger != nil {
		client.Logger = &retryLogger{logger: e.logger}
	}

	start := time.Now()
	resp, err := client.Do(retryReq)
	duration := time.Since(start)

	outcome := &types.Outcome{Attempts: attempts}
	if err != nil {
		outcome.Failure = classifyError(err)
		if resp != nil {
			resp.Body.Close()
		}
	} else {
		defer resp.Body.Close()

		// Call response hook
		if e.hooks != nil && e.hooks.OnResponse != nil {
			e.hooks.OnResponse(ctx, resp, duration)
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		outcome.StatusCode = resp.StatusCode
		switch {
		case readErr != nil:
			outcome.Failure = classifyError(errors.Wrap(readErr, "failed to read response"))
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			outcome.Body = respBody
		default:
			outcome.Failure = classifyResponse(resp.StatusCode, respBody)
		}

		e.debug("Response", "status", resp.StatusCode, "duration", duration, "size", len(respBody))
	}

	// Only transient failures that used every attempt count against the
	// endpoint; anything the backend answered resets the count.
	exhausted := outcome.Failure != nil && outcome.Failure.Kind.Transient() && attempts >= policy.MaxAttempts
	if e.recordFailure(ep.Addr(), exhausted) {
		e.warn("Retries exhausted, invalidating endpoint", "addr", ep.Addr(), "kind", string(outcome.Failure.Kind))
		e.resolver.Invalidate()
	}

	return e.finish(ctx, outcome)
}

// recordFailure tracks consecutive exhausted calls per endpoint and reports
// whether the threshold was just reached.
func (e *Executor) recordFailure(addr string, exhausted bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !exhausted {
		if addr == e.failedAddr {
			e.failures = 0
		}
		return false
	}
	if addr != e.failedAddr {
		e.failedAddr = addr
		e.failures = 0
	}
	e.failures++
	if e.failures < e.staleAfter {
		return false
	}
	e.failedAddr = ""
	e.failures = 0
	return true
}

// finish runs the error hook and records the outcome
func (e *Executor) finish(ctx context.Context, outcome *types.Outcome) *types.Outcome {
	if outcome.Failure == nil {
		metrics.ObserveOutcome("")
		return outcome
	}

	metrics.ObserveOutcome(string(outcome.Failure.Kind))
	if e.hooks != nil && e.hooks.OnError != nil {
		e.hooks.OnError(ctx, outcome.Failure)
	}
	e.debug("Request failed", "kind", string(outcome.Failure.Kind), "status", outcome.Failure.StatusCode, "attempts", outcome.Attempts)
	return outcome
}

func (e *Executor) setHeaders(httpReq *http.Request, req *types.Request) {
	for k, v := range e.headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 {
		ct := req.ContentType
		if ct == "" {
			ct = contentType
		}
		httpReq.Header.Set("Content-Type", ct)
	}

	// One id per logical call, shared by its retries, so the backend can
	// collapse duplicates.
	if httpReq.Header.Get(requestIDHeaderKey) == "" {
		httpReq.Header.Set(requestIDHeaderKey, uuid.New().String())
	}

	if req.Authenticated && e.token != nil {
		if token := e.token(); token != "" {
			httpReq.Header.Set(authHeaderKey, fmt.Sprintf("Bearer %s", token))
		}
	}
}

// attemptClient shares the base transport but bounds every attempt.
func (e *Executor) attemptClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport:     e.httpClient.Transport,
		CheckRedirect: e.httpClient.CheckRedirect,
		Jar:           e.httpClient.Jar,
		Timeout:       timeout,
	}
}

// checkRetry retries transient transport failures and the status allow-list.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return classifyError(err).Kind.Transient(), nil
	}
	return retryableStatus[resp.StatusCode], nil
}

func validate(req *types.Request, policy types.RetryPolicy) error {
	if req == nil {
		return errors.Wrap(types.ErrInvalidRequest, "nil request")
	}
	if req.Method == "" {
		return errors.Wrap(types.ErrInvalidRequest, "missing method")
	}
	if req.Path == "" || req.Path[0] != '/' {
		return errors.Wrapf(types.ErrInvalidRequest, "path %q must start with /", req.Path)
	}
	if err := policy.Validate(); err != nil {
		return errors.Wrap(types.ErrInvalidRequest, err.Error())
	}
	return nil
}

func asFailure(err error) *types.Failure {
	var f *types.Failure
	if errors.As(err, &f) {
		return f
	}
	return classifyError(err)
}

func (e *Executor) debug(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Debug(msg, kv...)
	}
}

func (e *Executor) warn(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Warn(msg, kv...)
	}
}

// retryLogger adapts our logger to retryablehttp
type retryLogger struct {
	logger types.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}
