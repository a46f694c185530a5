package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/facilityops/accesscontrol-sync/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync engine",
	Long: `Run the sync engine: connect to the broker, answer dashboard commands,
run scheduled syncs and serve the ops endpoints (/health, /readiness,
/version, /metrics).

The configuration file (--config) selects the transport, the device
directory, the central record store and the sync settings. Secrets can be
provided through ACSYNC_* environment variables or a .env file.

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const defaultGracefulTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("address", "", "Ops HTTP address (overrides ops.address)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().String("env-file", ".env", "Optional dotenv file loaded before the configuration")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

// loadEnvFile loads a dotenv file when it exists. Variables already set in
// the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	slog.Debug("Loaded environment file", "path", path)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []app.SyncAppOptions{app.WithConfig(cfg)}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, app.WithAddress(address))
	}

	syncApp, err := app.NewSyncApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- syncApp.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			if stopErr := syncApp.Stop(defaultGracefulTimeout); stopErr != nil {
				slog.Error("Shutdown after failure did not complete", "error", stopErr)
			}
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	return syncApp.Stop(defaultGracefulTimeout)
}
