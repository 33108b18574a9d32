// Command civicctl drives the civic report access layer from a terminal:
// endpoint discovery, sign-in, profile changes and report submission.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/eshaffer321/civicreport-go/internal/config"
	civiclog "github.com/eshaffer321/civicreport-go/internal/log"
	"github.com/eshaffer321/civicreport-go/pkg/civic"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	logLevel    string
	locale      string
	dumpMetrics bool

	// set by the root PersistentPreRunE
	cfg    config.Config
	client *civic.Client
)

var rootCmd = &cobra.Command{
	Use:           "civicctl",
	Short:         "Civic report client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		if cmd.Name() == configCmd.Name() || cmd.Parent() == configCmd {
			return nil
		}
		client, err = newClient(cmd.Context(), cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dumpMetrics {
			if err := writeMetrics(cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		if client != nil {
			return client.Close()
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", config.DefaultPath(), "path to the YAML config file")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&locale, "locale", "", "locale for user-facing messages")
	flags.BoolVar(&dumpMetrics, "metrics", false, "print client metrics after the command")

	rootCmd.AddCommand(
		resolveCmd,
		healthCmd,
		loginCmd,
		registerCmd,
		verifyCmd,
		whoamiCmd,
		logoutCmd,
		profileCmd,
		submitCmd,
		reportsCmd,
		checkCmd,
		configCmd,
	)
}

func loadConfig() (config.Config, error) {
	c, err := config.LoadOrDefault(configPath)
	if err != nil {
		return c, err
	}
	if err := config.ApplyEnv(&c, os.Getenv); err != nil {
		return c, err
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if locale != "" {
		c.Locale = locale
	}
	return c, config.Validate(c)
}

func logger() *civiclog.Logger {
	return civiclog.New(civiclog.Config{
		Level:     cfg.LogLevel,
		Component: "civicctl",
		Console:   true,
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", userError(err))
		os.Exit(1)
	}
}

// userError prefers the localized sentence for access-layer failures
func userError(err error) string {
	if civic.KindOf(err) != civic.KindUnknown || civic.IsAuthError(err) {
		l := cfg.Locale
		if l == "" {
			l = civic.DefaultLocale
		}
		return fmt.Sprintf("%s (%v)", civic.UserMessage(err, l), err)
	}
	return err.Error()
}
