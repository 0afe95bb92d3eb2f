package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"bizxpense/internal/config"
	"bizxpense/internal/storage"
)

func newMigrateCommand(a *app) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMigrate(cmd.OutOrStdout(), statusOnly)
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "print the schema version without migrating")

	return cmd
}

func (a *app) runMigrate(out io.Writer, statusOnly bool) error {
	if a.cfg.DataBackend != config.BackendSQLite {
		return fmt.Errorf("migrate requires the %s backend, got %s", config.BackendSQLite, a.cfg.DataBackend)
	}

	if !statusOnly {
		if err := storage.RunMigrations(a.cfg.SQLiteDBPath); err != nil {
			return err
		}
	}

	version, dirty, err := storage.MigrationVersion(a.cfg.SQLiteDBPath)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Fprintf(out, "%s: schema version %d", a.cfg.SQLiteDBPath, version)
	if dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
