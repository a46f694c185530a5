package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbPolicyPersistence keeps the policy in the single-row auto_sync_policy table
type dbPolicyPersistence struct {
	pool *pgxpool.Pool
}

// NewDBPolicyPersistence creates a database-backed policy persistence
func NewDBPolicyPersistence(pool *pgxpool.Pool) PolicyPersistence {
	return &dbPolicyPersistence{pool: pool}
}

func (d *dbPolicyPersistence) SavePolicy(ctx context.Context, policy *AutoSyncPolicy) error {
	if policy == nil {
		return errors.New("policy cannot be nil")
	}
	interval := policy.IntervalHours
	if interval == 0 {
		interval = DefaultIntervalHours
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO auto_sync_policy (id, enabled, interval_hours, last_sync_time, total_syncs_performed)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			interval_hours = EXCLUDED.interval_hours,
			last_sync_time = EXCLUDED.last_sync_time,
			total_syncs_performed = EXCLUDED.total_syncs_performed`,
		policy.Enabled, interval, policy.LastSyncTime, policy.TotalSyncsPerformed)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (d *dbPolicyPersistence) LoadPolicy(ctx context.Context) (*AutoSyncPolicy, error) {
	var (
		policy   AutoSyncPolicy
		interval int32
		last     *time.Time
	)
	err := d.pool.QueryRow(ctx,
		`SELECT enabled, interval_hours, last_sync_time, total_syncs_performed FROM auto_sync_policy WHERE id = 1`,
	).Scan(&policy.Enabled, &interval, &last, &policy.TotalSyncsPerformed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	policy.IntervalHours = int(interval)
	if last != nil {
		utc := last.UTC()
		policy.LastSyncTime = &utc
	}
	return &policy, nil
}
