package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facilityops/accesscontrol-sync/internal/device"
	"github.com/facilityops/accesscontrol-sync/internal/discovery"
	"github.com/facilityops/accesscontrol-sync/internal/gateway"
	"github.com/facilityops/accesscontrol-sync/internal/health"
	"github.com/facilityops/accesscontrol-sync/internal/history"
	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/status"
	pkgsync "github.com/facilityops/accesscontrol-sync/internal/sync"
	"github.com/facilityops/accesscontrol-sync/internal/sync/coordinator"
	"github.com/facilityops/accesscontrol-sync/internal/telemetry"
	"github.com/facilityops/accesscontrol-sync/internal/transport"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	Directory device.Directory
	Records   records.Store
	Health    *health.Registry
	History   *history.Log
	Policy    *status.PolicyTracker

	Discovery *discovery.Engine
	Executor  *pkgsync.Executor

	// Scheduler owns the single-flight guard and the auto-sync ticker
	Scheduler *coordinator.Scheduler

	Transport transport.PubSub
	Gateway   *gateway.Gateway

	Telemetry *telemetry.Telemetry

	// Database is nil unless a store uses PostgreSQL
	Database *pgxpool.Pool
}
