package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/facilityops/accesscontrol-sync/database"
)

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back database migrations",
	Long: `Roll back the given number of migrations (--num-steps, required).
Rolling back drops the tables holding devices, users, run history and the
auto-sync policy.`,
	RunE: runMigrateDown,
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	steps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}
	if steps == 0 {
		return fmt.Errorf("--num-steps must be greater than zero for down migrations")
	}

	connString, target, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, fmt.Sprintf("roll back %d migration(s)", steps), target)
	if err != nil || !ok {
		return err
	}

	if err := database.MigrateDown(connString, int(steps)); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	slog.Info("Migrations rolled back", "steps", steps)
	return nil
}
