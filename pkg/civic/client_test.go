package civic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/messages"
	"github.com/eshaffer321/civicreport-go/internal/session"
	"github.com/eshaffer321/civicreport-go/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockExecutor is a mock implementation of Executor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req *Request, policy RetryPolicy) *Outcome {
	args := m.Called(ctx, req, policy)
	return args.Get(0).(*Outcome)
}

// newMockClient wires services around a mock executor
func newMockClient(exec Executor) *Client {
	c := &Client{
		executor: exec,
		sessions: session.New(nil),
		store:    storage.NewMemoryStore(),
		catalog:  messages.NewCatalog(),
		policy:   DefaultRetryPolicy,
		options: &ClientOptions{
			Locale:       DefaultLocale,
			AssetOpener:  OpenAsset,
			MaxAssetSize: DefaultMaxAssetSize,
		},
	}
	c.initServices()
	return c
}

func pathIs(path string) interface{} {
	return mock.MatchedBy(func(r *Request) bool { return r.Path == path })
}

var testPolicy = RetryPolicy{
	MaxAttempts:       2,
	BaseDelay:         10 * time.Millisecond,
	Multiplier:        2,
	TimeoutPerAttempt: 200 * time.Millisecond,
}

// backend is a fake civic API. Handlers are keyed by "METHOD /path" without
// the /api prefix; /health always answers.
type backend struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	handlers map[string]http.HandlerFunc
}

func newBackend(t *testing.T, handlers map[string]http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{t: t, hits: map[string]int{}, handlers: handlers}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api")
	b.mu.Lock()
	b.hits[key]++
	h := b.handlers[key]
	b.mu.Unlock()

	if key == "GET /health" && h == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (b *backend) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[key]
}

func (b *backend) addr() string {
	return b.srv.Listener.Addr().String()
}

func newTestClient(t *testing.T, b *backend, mutate ...func(*ClientOptions)) *Client {
	t.Helper()
	policy := testPolicy
	opts := &ClientOptions{
		Candidates:   []string{b.addr()},
		ProbeTimeout: time.Second,
		RetryPolicy:  &policy,
	}
	for _, m := range mutate {
		m(opts)
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Reports)
	assert.NotNil(t, c.Auth)
	assert.NotNil(t, c.Users)
	assert.NotNil(t, c.Sessions)
	assert.Equal(t, DefaultRetryPolicy, c.policy)
	assert.Equal(t, "en", c.Locale())
	assert.Nil(t, c.Sessions.Current())
}

func TestNewClient_RejectsInvalidPolicy(t *testing.T) {
	_, err := NewClient(&ClientOptions{RetryPolicy: &RetryPolicy{MaxAttempts: 0, Multiplier: 2, TimeoutPerAttempt: time.Second}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewClient(&ClientOptions{Candidates: []string{"host:port"}})
	assert.Error(t, err)
}

func TestNewClient_RestoresPersistedSession(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), session.LegacyKey, []byte(`{"idUsuario":42,"nombre":"Ana","token":"tok"}`)))

	c, err := NewClient(&ClientOptions{Store: store})
	require.NoError(t, err)

	s := c.Sessions.Current()
	require.NotNil(t, s)
	assert.Equal(t, "42", s.UserID)
	assert.Equal(t, "Ana", s.DisplayName)
}

func TestClient_ResolveAndHealth(t *testing.T) {
	b := newBackend(t, nil)
	c := newTestClient(t, b)

	ep, err := c.ResolveEndpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.addr(), ep.Addr())

	require.NoError(t, c.Health(context.Background()))
	// one probe plus one health call through the executor
	assert.Equal(t, 2, b.count("GET /health"))

	c.InvalidateEndpoint()
	_, err = c.ResolveEndpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, b.count("GET /health"))
}

func TestClient_ExecuteGeneric(t *testing.T) {
	b := newBackend(t, map[string]http.HandlerFunc{
		"GET /categories": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`["infrastructure","lighting"]`))
		},
	})
	c := newTestClient(t, b)

	out := c.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/categories"})
	require.True(t, out.OK())
	assert.JSONEq(t, `["infrastructure","lighting"]`, string(out.Body))

	out = c.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/missing"})
	require.False(t, out.OK())
	assert.Equal(t, KindNotFound, out.Failure.Kind)
	assert.ErrorIs(t, out.Err(), ErrNotFound)
}

func TestClient_NoReachableBackend(t *testing.T) {
	c, err := NewClient(&ClientOptions{
		Candidates:   []string{"127.0.0.1:1"},
		ProbeTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ResolveEndpoint(context.Background())
	assert.ErrorIs(t, err, ErrNoEndpoint)

	err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrNetworkUnreachable)
	assert.Equal(t, KindNetworkUnreachable, KindOf(err))
	assert.Equal(t, c.Message(KindNetworkUnreachable), UserMessage(err, "en"))
}

type failingLimiter struct{ err error }

func (l failingLimiter) Wait(context.Context) error { return l.err }

func TestClient_RateLimiterFailure(t *testing.T) {
	exec := new(MockExecutor)
	c := newMockClient(exec)
	c.options.RateLimiter = failingLimiter{err: errors.Wrap(context.DeadlineExceeded, "rate: Wait")}

	out := c.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/health"})
	require.False(t, out.OK())
	assert.Equal(t, KindTimeout, out.Failure.Kind)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

type closeTrackingStore struct {
	*storage.MemoryStore
	closed bool
}

func (s *closeTrackingStore) Close() error {
	s.closed = true
	return nil
}

func TestClient_CloseClosesStore(t *testing.T) {
	store := &closeTrackingStore{MemoryStore: storage.NewMemoryStore()}
	c, err := NewClient(&ClientOptions{Store: store})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.True(t, store.closed)
}

func TestReportable(t *testing.T) {
	assert.True(t, reportable(KindServerError))
	assert.True(t, reportable(KindTimeout))
	assert.False(t, reportable(KindValidation))
	assert.False(t, reportable(KindDuplicate))
}
