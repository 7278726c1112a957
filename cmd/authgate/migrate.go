// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthGate Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/store"
)

// Migrator is the subset of store.Migrator used by the migrate commands.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// migratorFactory opens the migrator for a database URL. Tests replace it.
var migratorFactory = func(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate command. Without a subcommand it applies
// all pending migrations.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back, or inspect the migrations of the users schema.`,
		RunE:  runMigrateUp,
	}

	var downAll bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateDown(cmd, downAll)
		},
	}
	down.Flags().BoolVar(&downAll, "all", false, "roll back every migration")

	var statusJSON bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateStatus(cmd, statusJSON)
		},
	}
	status.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		down,
		status,
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations, or roll back when N is negative",
			Long:  `Apply N migrations, or roll back when N is negative: authgate migrate steps -- -2`,
			Args:  cobra.ExactArgs(1),
			RunE:  runMigrateSteps,
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Long: `Set the recorded schema version and clear the dirty flag. Use it
after repairing a failed migration by hand.`,
			Args: cobra.ExactArgs(1),
			RunE: runMigrateForce,
		},
	)
	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m Migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, all bool) error {
	return withMigrator(cmd, func(m Migrator) error {
		if all {
			cmd.Println("Rolling back all migrations...")
			if err := m.Down(); err != nil {
				return err
			}
		} else {
			cmd.Println("Rolling back one migration...")
			if err := m.Steps(-1); err != nil {
				return err
			}
		}
		cmd.Println("Rollback completed successfully")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, asJSON bool) error {
	return withMigrator(cmd, func(m Migrator) error {
		status, err := m.Status()
		if err != nil {
			return err
		}
		if asJSON {
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return oops.With("operation", "marshal migration status").Wrap(err)
			}
			cmd.Println(string(data))
			return nil
		}
		writeStatusTable(cmd.OutOrStdout(), status)
		return nil
	})
}

func runMigrateSteps(cmd *cobra.Command, args []string) error {
	n, err := parseSteps(args[0])
	if err != nil {
		return err
	}
	return withMigrator(cmd, func(m Migrator) error {
		if err := m.Steps(n); err != nil {
			return err
		}
		cmd.Printf("Moved %d step(s)\n", n)
		return nil
	})
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}
	return withMigrator(cmd, func(m Migrator) error {
		if err := m.Force(version); err != nil {
			return err
		}
		cmd.Printf("Forced schema version to %d\n", version)
		return nil
	})
}

// withMigrator loads the database URL, opens a migrator, runs fn and closes
// the migrator.
func withMigrator(cmd *cobra.Command, fn func(Migrator) error) (err error) {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	databaseURL, err := getDatabaseURL(cfg)
	if err != nil {
		return err
	}

	m, err := migratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(m)
}

func getDatabaseURL(cfg config.Config) (string, error) {
	url := cfg.Database.URL.Reveal()
	if url == "" {
		return "", oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("database url is required (set AUTHGATE_DATABASE__URL or --database-url)")
	}
	return url, nil
}

func parseForceVersion(s string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || version < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be a non-negative integer, got %q", s)
	}
	return version, nil
}

func parseSteps(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n == 0 {
		return 0, oops.Code("INVALID_STEPS").With("input", s).Errorf("steps must be a non-zero integer, got %q", s)
	}
	return n, nil
}

func writeStatusTable(out io.Writer, status store.MigrationStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	name := status.Name
	if name == "" {
		name = "-"
	}
	_, _ = fmt.Fprintf(w, "VERSION\t%d\n", status.Version)
	_, _ = fmt.Fprintf(w, "NAME\t%s\n", name)
	_, _ = fmt.Fprintf(w, "DIRTY\t%t\n", status.Dirty)
	_, _ = fmt.Fprintf(w, "APPLIED\t%s\n", joinVersions(status.Applied))
	_, _ = fmt.Fprintf(w, "PENDING\t%s\n", joinVersions(status.Pending))

	_ = w.Flush()
}

func joinVersions(versions []uint) string {
	if len(versions) == 0 {
		return "-"
	}
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ", ")
}
