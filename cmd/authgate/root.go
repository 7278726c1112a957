// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/config"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the AuthGate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "AuthGate - username/password authentication with JWT sessions",
		Long: `AuthGate registers users, verifies their passwords and issues
short-lived signed access tokens, delivered as a JSON body and an
http-only cookie.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/authgate/config.yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file merged into the environment when present")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig merges defaults, the config file, the environment and the
// flags of cmd.
func loadConfig(cmd *cobra.Command, validate bool) (config.Config, error) {
	return config.Load(config.LoadOptions{
		ConfigFile:     configFile,
		EnvFile:        envFile,
		Flags:          cmd.Flags(),
		SkipValidation: !validate,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("authgate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
