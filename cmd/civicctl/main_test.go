package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/config"
	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClientOptions(t *testing.T) {
	c := config.Default()
	c.Endpoint.Candidates = []string{"10.0.0.5:4000"}
	c.Endpoint.FallbackHost = "civic.example.org"
	c.Locale = "es"
	c.RateLimit = 2.5

	opts := clientOptions(c)
	assert.Equal(t, []string{"10.0.0.5:4000"}, opts.Candidates)
	assert.Equal(t, "civic.example.org", opts.FallbackHost)
	assert.Equal(t, c.Endpoint.TTL, opts.EndpointTTL)
	assert.Equal(t, 1, opts.EndpointFailureThreshold)
	assert.Equal(t, c.Retry, *opts.RetryPolicy)
	assert.Equal(t, "es", opts.Locale)
	assert.Equal(t, config.DefaultPlaceholderID, opts.PlaceholderUserID)

	limiter, ok := opts.RateLimiter.(*rate.Limiter)
	require.True(t, ok)
	assert.Equal(t, rate.Limit(2.5), limiter.Limit())
	assert.Equal(t, 2, limiter.Burst())

	c.RateLimit = 0
	assert.Nil(t, clientOptions(c).RateLimiter)
}

func newCheckClient(t *testing.T, handler http.HandlerFunc) *civic.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := config.Default()
	c.Endpoint.Candidates = []string{srv.Listener.Addr().String()}
	c.Endpoint.ProbeTimeout = time.Second
	c.Retry = civic.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, TimeoutPerAttempt: time.Second}
	c.Storage.Backend = config.BackendMemory
	c.LogLevel = "error"

	cfg = c
	cl, err := newClient(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestChecker(t *testing.T) {
	cl := newCheckClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			w.WriteHeader(http.StatusOK)
		case "/api/reports/user/42":
			_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
		default:
			http.NotFound(w, r)
		}
	})

	chk := &checker{client: cl, out: &bytes.Buffer{}}

	t.Run("without session", func(t *testing.T) {
		report := chk.Run(context.Background(), defaultChecks)
		assert.Equal(t, 4, report.TotalChecks)
		assert.Equal(t, 2, report.Passed)
		assert.Equal(t, 2, report.Skipped)
		assert.Equal(t, 0, report.Failed)
		assert.Equal(t, float64(100), report.SuccessRate)
		assert.True(t, strings.HasPrefix(report.Endpoint, "http://127.0.0.1:"))
	})

	t.Run("with session", func(t *testing.T) {
		require.NoError(t, cl.Sessions.Save(context.Background(), civic.Session{UserID: "42", Token: "tok"}))
		report := chk.Run(context.Background(), defaultChecks)
		assert.Equal(t, 4, report.Passed)
		assert.Equal(t, "2 reports", report.Results[3].Detail)
	})

	t.Run("unknown check fails", func(t *testing.T) {
		report := chk.Run(context.Background(), []string{"bogus"})
		assert.Equal(t, 1, report.Failed)
		assert.Contains(t, report.Results[0].Error, "unknown check")
	})
}

func TestChecker_UnhealthyBackend(t *testing.T) {
	healthy := true
	cl := newCheckClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" && healthy {
			healthy = false // only the discovery probe succeeds
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	report := (&checker{client: cl, out: &bytes.Buffer{}}).Run(context.Background(), []string{"resolve", "health"})
	require.Len(t, report.Results, 2)
	assert.True(t, report.Results[0].Passed)
	assert.False(t, report.Results[1].Passed)
	assert.Equal(t, civic.KindServerError, report.Results[1].Kind)
	assert.Equal(t, float64(50), report.SuccessRate)
}

func TestSaveReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	report := &CheckReport{Timestamp: time.Unix(1700000000, 0).UTC(), TotalChecks: 1, Passed: 1,
		Results: []CheckResult{{Check: "health", Passed: true}}}

	require.NoError(t, saveReport(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got CheckReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, report.Results, got.Results)
}

func TestWriteMetrics(t *testing.T) {
	cl := newCheckClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, cl.Health(context.Background()))

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf))
	assert.Contains(t, buf.String(), `civic_request_attempts_total{method="GET"}`)
	assert.NotContains(t, buf.String(), "go_goroutines")
}
