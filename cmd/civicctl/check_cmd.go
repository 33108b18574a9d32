package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// CheckResult is the result of one check against the live backend
type CheckResult struct {
	Check    string        `json:"check"`
	Passed   bool          `json:"passed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Kind     civic.Kind    `json:"kind,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CheckReport represents the full check run
type CheckReport struct {
	Timestamp   time.Time     `json:"timestamp"`
	Endpoint    string        `json:"endpoint,omitempty"`
	TotalChecks int           `json:"total_checks"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	SuccessRate float64       `json:"success_rate"`
	Results     []CheckResult `json:"results"`
}

var (
	checkOutputDir string
	checkVerbose   bool
	checkNames     []string
)

var defaultChecks = []string{"resolve", "health", "session", "list_reports"}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run connectivity checks against the live backend",
	Long: `Runs a fixed set of read-only checks (endpoint discovery, health,
stored session, report listing) and writes a JSON report to --output.
Exits non-zero when any check fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		checker := &checker{client: client, verbose: checkVerbose, out: cmd.ErrOrStderr()}
		report := checker.Run(cmd.Context(), checkNames)

		if checkOutputDir != "" {
			path := filepath.Join(checkOutputDir, fmt.Sprintf("check_report_%d.json", report.Timestamp.Unix()))
			if err := saveReport(report, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report saved to %s\n", path)
		}

		printSummary(cmd.OutOrStdout(), report)
		if report.Failed > 0 {
			return errors.Errorf("%d of %d checks failed", report.Failed, report.TotalChecks)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkOutputDir, "output", "", "directory for the JSON report")
	checkCmd.Flags().BoolVar(&checkVerbose, "verbose", false, "verbose output")
	checkCmd.Flags().StringSliceVar(&checkNames, "checks", defaultChecks, "checks to run")
}

// checker runs checks through an SDK client
type checker struct {
	client  *civic.Client
	verbose bool
	out     io.Writer
}

// Run executes the named checks in order
func (c *checker) Run(ctx context.Context, names []string) *CheckReport {
	report := &CheckReport{
		Timestamp: time.Now(),
		Results:   make([]CheckResult, 0, len(names)),
	}

	for _, name := range names {
		if c.verbose {
			fmt.Fprintf(c.out, "Checking %s...\n", name)
		}

		result := c.runCheck(ctx, name)
		report.Results = append(report.Results, result)

		switch {
		case result.Skipped:
			report.Skipped++
		case result.Passed:
			report.Passed++
		default:
			report.Failed++
		}
	}

	if ep, err := c.client.ResolveEndpoint(ctx); err == nil {
		report.Endpoint = ep.BaseURL()
	}

	report.TotalChecks = len(report.Results)
	if ran := report.TotalChecks - report.Skipped; ran > 0 {
		report.SuccessRate = float64(report.Passed) / float64(ran) * 100
	}
	return report
}

func (c *checker) runCheck(ctx context.Context, name string) CheckResult {
	start := time.Now()
	result := CheckResult{Check: name}

	detail, err := c.execute(ctx, name)
	result.Duration = time.Since(start)
	switch {
	case errors.Is(err, errSkipped):
		result.Skipped = true
		result.Detail = detail
	case err != nil:
		result.Error = err.Error()
		result.Kind = civic.KindOf(err)
	default:
		result.Passed = true
		result.Detail = detail
	}
	return result
}

var errSkipped = errors.New("skipped")

func (c *checker) execute(ctx context.Context, name string) (string, error) {
	switch name {
	case "resolve":
		ep, err := c.client.ResolveEndpoint(ctx)
		if err != nil {
			return "", err
		}
		return ep.Addr(), nil

	case "health":
		return "", c.client.Health(ctx)

	case "session":
		sess := c.client.Sessions.Current()
		if sess == nil {
			return "no stored session", errSkipped
		}
		if sess.Token == "" {
			return "", errors.Errorf("session for %s has no token", sess.UserID)
		}
		return "user " + sess.UserID, nil

	case "list_reports":
		sess := c.client.Sessions.Current()
		if sess == nil {
			return "no stored session", errSkipped
		}
		reports, err := c.client.Reports.ListByUser(ctx, sess.UserID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d reports", len(reports)), nil

	default:
		return "", errors.Errorf("unknown check: %s (known: %s)", name, strings.Join(defaultChecks, ", "))
	}
}

// saveReport writes the report atomically
func saveReport(report *CheckReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal report")
	}
	return errors.Wrap(renameio.WriteFile(path, data, 0o644), "failed to write report")
}

func printSummary(w io.Writer, report *CheckReport) {
	fmt.Fprintln(w, "\n========== Check Summary ==========")
	if report.Endpoint != "" {
		fmt.Fprintf(w, "Endpoint: %s\n", report.Endpoint)
	}
	fmt.Fprintf(w, "Total: %d  Passed: %d  Failed: %d  Skipped: %d\n",
		report.TotalChecks, report.Passed, report.Failed, report.Skipped)
	fmt.Fprintf(w, "Success Rate: %.1f%%\n", report.SuccessRate)

	for _, r := range report.Results {
		switch {
		case r.Skipped:
			fmt.Fprintf(w, "  - %-14s skipped (%s)\n", r.Check, r.Detail)
		case r.Passed:
			fmt.Fprintf(w, "  ✓ %-14s %s [%s]\n", r.Check, r.Detail, r.Duration.Round(time.Millisecond))
		default:
			fmt.Fprintf(w, "  ✗ %-14s %s\n", r.Check, r.Error)
		}
	}
}
