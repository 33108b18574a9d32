package main

import (
	"context"
	"fmt"
	"time"

	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// civicTools holds the civic client and implements all tool handlers
type civicTools struct {
	client *civic.Client
}

// SubmitReport tool - files a report, degrading to text-only when the image fails
type SubmitReportInput struct {
	Title       string `json:"title" jsonschema:"Short title of the issue"`
	Description string `json:"description,omitempty" jsonschema:"What is wrong"`
	Location    string `json:"location,omitempty" jsonschema:"Where the issue is (address or landmark)"`
	Category    string `json:"category,omitempty" jsonschema:"Report category (e.g. infrastructure, lighting)"`
	ImagePath   string `json:"imagePath,omitempty" jsonschema:"Local path or file:// URI of a photo (optional)"`
}

type ReportEntry struct {
	ID          string    `json:"id" jsonschema:"Report ID"`
	Title       string    `json:"title" jsonschema:"Report title"`
	Description string    `json:"description,omitempty" jsonschema:"Report description"`
	Location    string    `json:"location,omitempty" jsonschema:"Report location"`
	Category    string    `json:"category,omitempty" jsonschema:"Report category"`
	Status      string    `json:"status,omitempty" jsonschema:"Processing status"`
	ImageURL    string    `json:"imageUrl,omitempty" jsonschema:"Uploaded image URL"`
	CreatedAt   time.Time `json:"createdAt,omitempty" jsonschema:"When the report was filed"`
}

type SubmitReportOutput struct {
	Report   *ReportEntry `json:"report,omitempty" jsonschema:"The filed report"`
	Degraded bool         `json:"degraded" jsonschema:"Whether the report was filed without its image"`
	Warning  string       `json:"warning,omitempty" jsonschema:"Warning for a degraded submission"`
}

func (t *civicTools) SubmitReport(ctx context.Context, req *mcp.CallToolRequest, input SubmitReportInput) (*mcp.CallToolResult, SubmitReportOutput, error) {
	if input.Title == "" {
		return nil, SubmitReportOutput{}, fmt.Errorf("title is required")
	}

	draft := &civic.ReportSubmission{
		Title:       input.Title,
		Description: input.Description,
		Location:    input.Location,
		Category:    input.Category,
	}
	if input.ImagePath != "" {
		draft.Asset = &civic.Asset{URI: input.ImagePath}
	}

	result := t.client.Reports.Submit(ctx, draft)
	if !result.Success {
		return nil, SubmitReportOutput{}, fmt.Errorf("failed to submit report: %s", result.Error)
	}

	return nil, SubmitReportOutput{
		Report:   toEntry(result.Data),
		Degraded: result.Degraded(),
		Warning:  result.Warning,
	}, nil
}

// ListReports tool - lists a user's reports
type ListReportsInput struct {
	UserID string `json:"userId,omitempty" jsonschema:"User id (defaults to the signed-in user)"`
}

type ListReportsOutput struct {
	UserID  string        `json:"userId" jsonschema:"User the reports belong to"`
	Reports []ReportEntry `json:"reports" jsonschema:"Reports filed by the user"`
	Count   int           `json:"count" jsonschema:"Number of reports"`
}

func (t *civicTools) ListReports(ctx context.Context, req *mcp.CallToolRequest, input ListReportsInput) (*mcp.CallToolResult, ListReportsOutput, error) {
	userID := input.UserID
	if userID == "" {
		sess := t.client.Sessions.Current()
		if sess == nil {
			return nil, ListReportsOutput{}, fmt.Errorf("no userId given and no session stored")
		}
		userID = sess.UserID
	}

	reports, err := t.client.Reports.ListByUser(ctx, userID)
	if err != nil {
		return nil, ListReportsOutput{}, fmt.Errorf("failed to fetch reports: %s", civic.UserMessage(err, t.client.Locale()))
	}

	// Convert to output format
	entries := make([]ReportEntry, 0, len(reports))
	for _, r := range reports {
		entries = append(entries, *toEntry(r))
	}

	return nil, ListReportsOutput{
		UserID:  userID,
		Reports: entries,
		Count:   len(entries),
	}, nil
}

// ResolveEndpoint tool - shows the backend endpoint in use
type ResolveEndpointInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"Drop the cached endpoint and probe again"`
}

type ResolveEndpointOutput struct {
	BaseURL      string    `json:"baseUrl" jsonschema:"API root of the endpoint"`
	Host         string    `json:"host" jsonschema:"Endpoint host"`
	Port         int       `json:"port" jsonschema:"Endpoint port"`
	DiscoveredAt time.Time `json:"discoveredAt" jsonschema:"When the endpoint was discovered"`
	ExpiresAt    time.Time `json:"expiresAt" jsonschema:"When the endpoint will be probed again"`
}

func (t *civicTools) ResolveEndpoint(ctx context.Context, req *mcp.CallToolRequest, input ResolveEndpointInput) (*mcp.CallToolResult, ResolveEndpointOutput, error) {
	if input.Refresh {
		t.client.InvalidateEndpoint()
	}

	ep, err := t.client.ResolveEndpoint(ctx)
	if err != nil {
		return nil, ResolveEndpointOutput{}, fmt.Errorf("failed to resolve endpoint: %s", civic.UserMessage(err, t.client.Locale()))
	}

	return nil, ResolveEndpointOutput{
		BaseURL:      ep.BaseURL(),
		Host:         ep.Host,
		Port:         ep.Port,
		DiscoveredAt: ep.DiscoveredAt,
		ExpiresAt:    ep.DiscoveredAt.Add(ep.TTL),
	}, nil
}

// Whoami tool - shows the stored session
type WhoamiInput struct {
	// No input parameters needed
}

type WhoamiOutput struct {
	SignedIn      bool      `json:"signedIn" jsonschema:"Whether a session is stored"`
	UserID        string    `json:"userId,omitempty" jsonschema:"User id"`
	DisplayName   string    `json:"displayName,omitempty" jsonschema:"Display name"`
	Email         string    `json:"email,omitempty" jsonschema:"Email address"`
	EmailVerified bool      `json:"emailVerified" jsonschema:"Whether the email is verified"`
	LoginTime     time.Time `json:"loginTime,omitempty" jsonschema:"When the user signed in"`
}

func (t *civicTools) Whoami(ctx context.Context, req *mcp.CallToolRequest, input WhoamiInput) (*mcp.CallToolResult, WhoamiOutput, error) {
	sess := t.client.Sessions.Current()
	if sess == nil {
		return nil, WhoamiOutput{}, nil
	}

	return nil, WhoamiOutput{
		SignedIn:      true,
		UserID:        sess.UserID,
		DisplayName:   sess.DisplayName,
		Email:         sess.Email,
		EmailVerified: sess.EmailVerified,
		LoginTime:     sess.LoginTime,
	}, nil
}

func toEntry(r *civic.Report) *ReportEntry {
	if r == nil {
		return nil
	}
	return &ReportEntry{
		ID:          r.ID.String(),
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		Category:    r.Category,
		Status:      r.Status,
		ImageURL:    r.ImageURL,
		CreatedAt:   r.CreatedAt,
	}
}
