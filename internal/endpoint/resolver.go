// Package endpoint discovers which host the backend currently lives on and
// caches the answer.
package endpoint

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/metrics"
	"github.com/eshaffer321/civicreport-go/internal/storage"
	"github.com/eshaffer321/civicreport-go/internal/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// CacheKey is the store key holding the last known good endpoint
const CacheKey = "civic.endpoint"

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Resolver
type Options struct {
	// Candidates are probed in parallel; entries are "host" or "host:port"
	Candidates []string

	// DefaultPort applies to candidates without an explicit port
	DefaultPort int

	// FallbackHost is probed only when no regular candidate answered. It is
	// never used without answering a probe.
	FallbackHost string

	ProbeTimeout time.Duration
	TTL          time.Duration
	HTTPClient   *http.Client
	Store        storage.Store
	Logger       types.Logger
	Clock        Clock
}

type candidate struct {
	host string
	port int
}

// Resolver resolves and caches the current backend endpoint. Concurrent
// Resolve calls share a single probe.
type Resolver struct {
	candidates   []candidate
	fallback     *candidate
	probeTimeout time.Duration
	ttl          time.Duration
	httpClient   *http.Client
	store        storage.Store
	logger       types.Logger
	clock        Clock

	mu      sync.Mutex
	current *types.Endpoint
	seeded  bool // durable cache already consulted

	group  singleflight.Group
	probes atomic.Int64
}

// New creates a resolver
func New(opts *Options) (*Resolver, error) {
	if opts == nil {
		opts = &Options{}
	}

	port := opts.DefaultPort
	if port == 0 {
		port = types.DefaultPort
	}

	seen := make(map[candidate]bool)
	var candidates []candidate
	for _, h := range opts.Candidates {
		c, err := parseCandidate(h, port)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		candidates = append(candidates, c)
	}

	var fallback *candidate
	if opts.FallbackHost != "" {
		c, err := parseCandidate(opts.FallbackHost, port)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			fallback = &c
		}
	}

	r := &Resolver{
		candidates:   candidates,
		fallback:     fallback,
		probeTimeout: opts.ProbeTimeout,
		ttl:          opts.TTL,
		httpClient:   opts.HTTPClient,
		store:        opts.Store,
		logger:       opts.Logger,
		clock:        opts.Clock,
	}
	if r.probeTimeout <= 0 {
		r.probeTimeout = types.DefaultProbeTimeout
	}
	if r.ttl <= 0 {
		r.ttl = types.DefaultEndpointTTL
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{}
	}
	if r.store == nil {
		r.store = storage.NewMemoryStore()
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	return r, nil
}

func parseCandidate(raw string, defaultPort int) (candidate, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimRight(raw, "/")
	if raw == "" {
		return candidate{}, errors.New("empty endpoint candidate")
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// no port
		return candidate{host: strings.Trim(raw, "[]"), port: defaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return candidate{}, errors.Errorf("invalid port in endpoint candidate %q", raw)
	}
	return candidate{host: host, port: port}, nil
}

// Resolve returns the current endpoint, probing when none is cached or the
// cached one expired.
func (r *Resolver) Resolve(ctx context.Context) (*types.Endpoint, error) {
	if ep := r.cached(ctx); ep != nil {
		return ep, nil
	}

	// The probe outlives any single waiter so late callers can still join it.
	probeCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan("resolve", func() (interface{}, error) {
		if ep := r.cached(probeCtx); ep != nil {
			return ep, nil
		}
		return r.probe(probeCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		ep := *res.Val.(*types.Endpoint)
		return &ep, nil
	case <-ctx.Done():
		kind := types.KindUnknown
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = types.KindTimeout
		}
		return nil, types.NewFailure(kind, "endpoint resolution abandoned", ctx.Err())
	}
}

// Invalidate forgets the current endpoint, in memory and in the durable
// cache, so the next Resolve probes again. The executor calls it after a
// configured number of consecutive calls exhausted their retries against the
// endpoint.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	dropped := r.current
	r.current = nil
	r.seeded = true
	r.mu.Unlock()

	metrics.ObserveInvalidation()
	if err := r.store.Delete(context.Background(), CacheKey); err != nil {
		r.warn("Failed to drop cached endpoint", "error", err)
	}
	if dropped != nil {
		r.info("Endpoint invalidated", "addr", dropped.Addr())
	}
}

// Current returns a copy of the cached endpoint without probing, or nil.
func (r *Resolver) Current() *types.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || r.current.Expired(r.clock.Now()) {
		return nil
	}
	ep := *r.current
	return &ep
}

// Probes returns how many probe sequences have run
func (r *Resolver) Probes() int64 {
	return r.probes.Load()
}

// cached returns a copy of a fresh cached endpoint, seeding from the durable
// store on first use.
func (r *Resolver) cached(ctx context.Context) *types.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.current != nil {
		if !r.current.Expired(now) {
			ep := *r.current
			return &ep
		}
		r.debug("Endpoint expired", "addr", r.current.Addr(), "age", now.Sub(r.current.DiscoveredAt))
		r.current = nil
	}

	if r.seeded {
		return nil
	}
	r.seeded = true

	data, err := r.store.Get(ctx, CacheKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.warn("Failed to read cached endpoint", "error", err)
		}
		return nil
	}

	var ep types.Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		r.warn("Discarding malformed cached endpoint", "error", err)
		return nil
	}
	if ep.Host == "" || ep.Expired(now) {
		return nil
	}

	r.current = &ep
	r.debug("Reusing last known endpoint", "addr", ep.Addr())
	out := ep
	return &out
}

// probe races the regular candidates; the first healthy one wins. The
// fallback host is tried only when none of them answered.
func (r *Resolver) probe(ctx context.Context) (*types.Endpoint, error) {
	r.probes.Add(1)

	winner := r.race(ctx, r.candidates)
	if winner == nil && r.fallback != nil {
		r.debug("No candidate answered, probing fallback", "addr", net.JoinHostPort(r.fallback.host, strconv.Itoa(r.fallback.port)))
		winner = r.race(ctx, []candidate{*r.fallback})
	}

	if winner == nil {
		metrics.ObserveProbe(false)
		r.warn("No endpoint candidate answered", "candidates", r.total())
		return nil, &types.Failure{
			Kind:    types.KindNetworkUnreachable,
			Message: types.ErrNoEndpoint.Error(),
			Err:     types.ErrNoEndpoint,
		}
	}

	ep := &types.Endpoint{
		Host:         winner.host,
		Port:         winner.port,
		DiscoveredAt: r.clock.Now(),
		TTL:          r.ttl,
	}

	r.mu.Lock()
	r.current = ep
	r.seeded = true
	r.mu.Unlock()

	metrics.ObserveProbe(true)
	r.info("Endpoint resolved", "addr", ep.Addr())

	if data, err := json.Marshal(ep); err == nil {
		if err := r.store.Set(ctx, CacheKey, data); err != nil {
			r.warn("Failed to persist endpoint", "error", err)
		}
	}

	out := *ep
	return &out, nil
}

// race probes candidates concurrently and returns the first healthy one
func (r *Resolver) race(ctx context.Context, candidates []candidate) *candidate {
	if len(candidates) == 0 {
		return nil
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *candidate, len(candidates))
	for i := range candidates {
		c := candidates[i]
		go func() {
			if r.healthy(raceCtx, c) {
				results <- &c
				return
			}
			results <- nil
		}()
	}

	var winner *candidate
	for range candidates {
		if c := <-results; c != nil && winner == nil {
			winner = c
			cancel()
		}
	}
	return winner
}

func (r *Resolver) total() int {
	if r.fallback != nil {
		return len(r.candidates) + 1
	}
	return len(r.candidates)
}

func (r *Resolver) healthy(ctx context.Context, c candidate) bool {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	ep := types.Endpoint{Host: c.host, Port: c.port}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.BaseURL()+types.HealthPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", types.UserAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.debug("Probe failed", "addr", ep.Addr(), "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (r *Resolver) debug(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(msg, kv...)
	}
}

func (r *Resolver) info(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, kv...)
	}
}

func (r *Resolver) warn(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, kv...)
	}
}
