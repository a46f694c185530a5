package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationTarget loads the config and returns the connection string
func migrationTarget(cmd *cobra.Command) (string, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", "", err
	}
	if cfg.Database == nil {
		return "", "", fmt.Errorf("database configuration is required")
	}
	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return "", "", fmt.Errorf("failed to get connection string: %w", err)
	}
	display := fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	return connString, display, nil
}

// confirm asks on stdin unless --yes was given
func confirm(cmd *cobra.Command, action, target string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	slog.Info("About to "+action, "database", target)
	fmt.Fprint(cmd.OutOrStdout(), "Continue? (yes/no): ")
	var response string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	if response != "yes" && response != "y" {
		slog.Info("Migration cancelled by user")
		return false, nil
	}
	return true, nil
}
