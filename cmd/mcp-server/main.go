package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	// Backend candidates from environment
	candidates := os.Getenv("CIVIC_CANDIDATES")
	if candidates == "" {
		log.Fatal("CIVIC_CANDIDATES environment variable is required")
	}

	// Initialize civic client
	client, err := civic.NewClient(&civic.ClientOptions{
		Candidates:   strings.Split(candidates, ","),
		FallbackHost: os.Getenv("CIVIC_FALLBACK_HOST"),
		Locale:       os.Getenv("CIVIC_LOCALE"),
		SentryDSN:    os.Getenv("CIVIC_SENTRY_DSN"),
	})
	if err != nil {
		log.Fatalf("failed to initialize civic client: %v", err)
	}
	defer client.Close()

	// Create MCP server with v1.0.0 API
	impl := &mcp.Implementation{
		Name:    "civic-report",
		Version: "1.0.0",
	}

	server := mcp.NewServer(impl, nil)

	// Register all tools
	registerTools(server, client)

	// Run server over stdio transport
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func registerTools(server *mcp.Server, client *civic.Client) {
	// Create tools instance with client
	tools := &civicTools{client: client}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "civic_submit_report",
		Description: "File a civic issue report (pothole, broken light, graffiti...). An optional image path is uploaded with the report; if the upload fails the report is filed without it and a warning is returned.",
	}, tools.SubmitReport)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "civic_list_reports",
		Description: "List the reports filed by a user, or by the signed-in user when no user id is given.",
	}, tools.ListReports)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "civic_resolve_endpoint",
		Description: "Show which backend endpoint the client is talking to, optionally forcing rediscovery.",
	}, tools.ResolveEndpoint)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "civic_whoami",
		Description: "Show the stored session of the signed-in citizen (never includes the token).",
	}, tools.Whoami)
}
