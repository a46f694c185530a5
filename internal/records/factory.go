package records

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facilityops/accesscontrol-sync/internal/config"
)

// NewStore creates the central user Store for the configured records type.
func NewStore(cfg *config.Config, pool *pgxpool.Pool) (Store, error) {
	switch cfg.Records.Type {
	case config.StorageTypeFile:
		return NewFileStore(cfg.Records.Path), nil
	case config.StorageTypeDatabase:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required when records type is database")
		}
		return NewDBStore(pool), nil
	case config.StorageTypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported records type %q", cfg.Records.Type)
	}
}
