package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/facilityops/accesscontrol-sync/internal/app"
	"github.com/facilityops/accesscontrol-sync/internal/config"
	"github.com/facilityops/accesscontrol-sync/internal/discovery"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/protocol"
	"github.com/facilityops/accesscontrol-sync/internal/transport/memory"
)

const offlineStopTimeout = 5 * time.Second

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Probe every configured terminal once and print the result",
	Long: `Probe every enabled terminal in the device directory and print which ones
answered, with their record and fingerprint counts. No broker is needed.`,
	RunE: runDiscover,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one manual sync and print the per-device result",
	Long: `Reconcile every enabled terminal with the central record store once, the
same way the dashboard's manualSync command does, and print the result.
The run is appended to the sync history. No broker is needed.`,
	RunE: runSyncOnce,
}

func init() {
	for _, c := range []*cobra.Command{discoverCmd, syncCmd} {
		c.Flags().String("config", "", "Path to configuration file (YAML format, required)")
		c.Flags().String("format", "table", "Output format (table or json)")
		if err := c.MarkFlagRequired("config"); err != nil {
			panic(err)
		}
	}
}

// newOfflineApp builds the engine with an in-process transport
func newOfflineApp(ctx context.Context, cfg *config.Config) (*app.SyncApp, error) {
	syncApp, err := app.NewSyncApp(ctx, app.WithConfig(cfg), app.WithTransport(memory.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	return syncApp, nil
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	syncApp, err := newOfflineApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = syncApp.Stop(offlineStopTimeout) }()

	report, err := syncApp.Components().Discovery.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), protocol.NewDiscoveryData(report))
	}
	return renderDiscovery(cmd.OutOrStdout(), report)
}

func runSyncOnce(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	syncApp, err := newOfflineApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = syncApp.Stop(offlineStopTimeout) }()

	handle, err := syncApp.Components().Scheduler.ManualSync(ctx)
	if err != nil {
		return err
	}
	rec, err := handle.Wait(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), protocol.NewRunData(rec))
	}
	return renderRun(cmd.OutOrStdout(), rec)
}

func renderDiscovery(w io.Writer, report *discovery.Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("Device", "Name", "Address", "Status", "Users", "Fingerprints", "Firmware", "Detail")

	for _, d := range report.AccessibleDevices {
		if err := table.Append(d.ID, d.Name, d.Address, "accessible",
			strconv.Itoa(d.RecordCount), strconv.Itoa(d.TemplateCount), d.FirmwareVersion, d.Warning); err != nil {
			return err
		}
	}
	for _, d := range report.FailedDevices {
		if err := table.Append(d.ID, d.Name, d.Address, "failed", "", "", "", d.Error); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%d accessible, %d failed in %s\n",
		len(report.AccessibleDevices), len(report.FailedDevices), report.Duration.Round(time.Millisecond))
	return err
}

func renderRun(w io.Writer, rec history.Record) error {
	table := tablewriter.NewWriter(w)
	table.Header("Device", "Synced", "Inserted", "Updated", "Deleted", "Error")

	for _, r := range rec.DeviceResults {
		if err := table.Append(r.DeviceID, strconv.FormatBool(r.Synced),
			strconv.Itoa(r.Inserted), strconv.Itoa(r.Updated), strconv.Itoa(r.Deleted), r.Error); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%s: %s\n", rec.Outcome, rec.Message)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
