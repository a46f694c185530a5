package history

import (
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facilityops/accesscontrol-sync/internal/config"
)

// NewStore creates the history Store for the configured storage type.
//
// Memory storage returns a nil Store, which keeps the Log in memory only.
// File storage writes to history.path, or to the data directory when no path
// is set. Database storage requires a non-nil pool.
func NewStore(cfg *config.Config, pool *pgxpool.Pool) (Store, error) {
	switch cfg.History.GetStorage() {
	case config.StorageTypeDatabase:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required when history storage is database")
		}
		return NewDBStore(pool), nil
	case config.StorageTypeFile:
		dir := cfg.History.Path
		if dir == "" {
			dir = filepath.Join(cfg.GetDataDir(), "history")
		}
		return NewFileStore(dir), nil
	case config.StorageTypeMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported history storage %q", cfg.History.Storage)
	}
}
