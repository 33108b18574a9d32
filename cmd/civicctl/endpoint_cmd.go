package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var refreshEndpoint bool

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show the backend endpoint in use",
	Long: `Resolves the backend endpoint, reusing the cached one while it is fresh.
With --refresh the cache is dropped and every candidate is probed again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if refreshEndpoint {
			client.InvalidateEndpoint()
		}
		ep, err := client.ResolveEndpoint(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Endpoint: %s\n", ep.BaseURL())
		fmt.Fprintf(out, "Discovered: %s (%s ago)\n", ep.DiscoveredAt.Format(time.RFC3339), time.Since(ep.DiscoveredAt).Round(time.Second))
		fmt.Fprintf(out, "Expires in: %s\n", (ep.TTL - time.Since(ep.DiscoveredAt)).Round(time.Second))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		if err := client.Health(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Backend healthy (%s)\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&refreshEndpoint, "refresh", false, "probe candidates even if an endpoint is cached")
}
