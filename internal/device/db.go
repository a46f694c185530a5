package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBDirectory lists devices from the devices table
type DBDirectory struct {
	pool *pgxpool.Pool
}

// NewDBDirectory creates a database-backed directory
func NewDBDirectory(pool *pgxpool.Pool) *DBDirectory {
	return &DBDirectory{pool: pool}
}

// ListDevices returns all rows ordered by id
func (d *DBDirectory) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, name, ip, port, password, timeout_seconds, enabled FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Device, error) {
		var (
			dev     Device
			timeout int32
			port    int32
		)
		if err := row.Scan(&dev.ID, &dev.Name, &dev.Address, &port, &dev.Password, &timeout, &dev.Enabled); err != nil {
			return Device{}, err
		}
		dev.Port = int(port)
		dev.Timeout = time.Duration(timeout) * time.Second
		return dev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return devices, nil
}

// Upsert inserts or updates a device row
func (d *DBDirectory) Upsert(ctx context.Context, dev Device) error {
	timeout := int32(dev.ContactTimeout(DefaultTimeout) / time.Second)
	if timeout < 1 {
		timeout = 1
	}
	port := dev.Port
	if port == 0 {
		port = DefaultPort
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO devices (id, name, ip, port, password, timeout_seconds, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			ip = EXCLUDED.ip,
			port = EXCLUDED.port,
			password = EXCLUDED.password,
			timeout_seconds = EXCLUDED.timeout_seconds,
			enabled = EXCLUDED.enabled,
			updated_at = now()`,
		dev.ID, dev.Name, dev.Address, port, dev.Password, timeout, dev.Enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", dev.ID, err)
	}
	return nil
}
