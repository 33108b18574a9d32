package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/eshaffer321/civicreport-go/internal/config"
	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"golang.org/x/time/rate"
)

// clientOptions maps a config onto SDK options. The store is opened by the
// caller.
func clientOptions(c config.Config) *civic.ClientOptions {
	policy := c.Retry
	opts := &civic.ClientOptions{
		Candidates:               c.Endpoint.Candidates,
		DefaultPort:              c.Endpoint.DefaultPort,
		FallbackHost:             c.Endpoint.FallbackHost,
		ProbeTimeout:             c.Endpoint.ProbeTimeout,
		EndpointTTL:              c.Endpoint.TTL,
		EndpointFailureThreshold: c.Endpoint.FailureThreshold,
		RetryPolicy:              &policy,
		Locale:                   c.Locale,
		PlaceholderUserID:        c.Session.PlaceholderID,
		SentryDSN:                c.SentryDSN,
	}
	if c.RateLimit > 0 {
		burst := int(c.RateLimit)
		if burst < 1 {
			burst = 1
		}
		opts.RateLimiter = rate.NewLimiter(rate.Limit(c.RateLimit), burst)
	}
	return opts
}

func newClient(ctx context.Context, c config.Config) (*civic.Client, error) {
	store, err := config.OpenStore(ctx, c.Storage)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s store", c.Storage.Backend)
	}

	opts := clientOptions(c)
	opts.Store = store
	opts.Logger = logger()

	cl, err := civic.NewClient(opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return cl, nil
}

// writeMetrics prints the civic_* counters in a compact text form
func writeMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}

	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "civic_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), formatLabels(m.GetLabel()), m.GetCounter().GetValue())
		}
	}
	return nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
