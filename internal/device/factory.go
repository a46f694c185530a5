package device

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facilityops/accesscontrol-sync/internal/config"
)

// NewDirectory creates the Directory for the configured directory type.
// Database directories require a non-nil pool.
func NewDirectory(cfg *config.Config, pool *pgxpool.Pool) (Directory, error) {
	switch cfg.Directory.Type {
	case config.StorageTypeStatic:
		devices := make([]Device, 0, len(cfg.Directory.Devices))
		for _, d := range cfg.Directory.Devices {
			devices = append(devices, FromConfig(d))
		}
		return NewStaticDirectory(devices), nil
	case config.StorageTypeFile:
		return NewFileDirectory(cfg.Directory.Path), nil
	case config.StorageTypeDatabase:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required when directory type is database")
		}
		return NewDBDirectory(pool), nil
	default:
		return nil, fmt.Errorf("unsupported directory type %q", cfg.Directory.Type)
	}
}
