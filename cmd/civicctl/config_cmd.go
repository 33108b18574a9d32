package main

import (
	"fmt"
	"os"

	"github.com/eshaffer321/civicreport-go/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var overwriteConfig bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective config to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !overwriteConfig {
			return errors.Errorf("%s already exists (use --force to overwrite)", configPath)
		}
		if err := config.Save(configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote %s\n", configPath)
		return nil
	},
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the effective config, after defaults and CIVIC_* overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		view := cfg
		if view.SentryDSN != "" {
			view.SentryDSN = "********"
		}
		if view.Storage.Redis.Password != "" {
			view.Storage.Redis.Password = "********"
		}
		data, err := yaml.Marshal(&view)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config")
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&overwriteConfig, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configDumpCmd)
}
