package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/facilityops/accesscontrol-sync/database"
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
This command reads the database connection parameters from the config file
and applies all migrations that haven't been run yet.`,
	RunE: runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	connString, target, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, "apply migrations", target)
	if err != nil || !ok {
		return err
	}

	slog.Info("Applying database migrations...")
	if err := database.MigrateUp(connString); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Migrations applied successfully")
	return nil
}
