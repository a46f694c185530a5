package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbStore keeps records in the sync_runs table
type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a database-backed store
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool}
}

func (d *dbStore) Load(ctx context.Context, limit int) ([]Record, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id::text, run_type, start_time, end_time, devices_attempted, devices_synced,
		       outcome, message, device_results
		FROM sync_runs
		ORDER BY end_time DESC, start_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			rec               Record
			attempted, synced int32
			results           []byte
		)
		if err := row.Scan(&rec.ID, &rec.Type, &rec.StartTime, &rec.EndTime,
			&attempted, &synced, &rec.Outcome, &rec.Message, &results); err != nil {
			return Record{}, err
		}
		rec.DevicesAttempted = int(attempted)
		rec.DevicesSynced = int(synced)
		rec.StartTime = rec.StartTime.UTC()
		rec.EndTime = rec.EndTime.UTC()
		if len(results) > 0 {
			if err := json.Unmarshal(results, &rec.DeviceResults); err != nil {
				return Record{}, fmt.Errorf("failed to decode device results for run %s: %w", rec.ID, err)
			}
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read sync runs: %w", err)
	}
	return records, nil
}

func (d *dbStore) Append(ctx context.Context, rec Record, limit int) (err error) {
	results, err := json.Marshal(rec.DeviceResults)
	if err != nil {
		return fmt.Errorf("failed to encode device results: %w", err)
	}
	if rec.DeviceResults == nil {
		results = []byte("[]")
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO sync_runs (id, run_type, start_time, end_time, devices_attempted, devices_synced,
		                       outcome, message, device_results)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, string(rec.Type), rec.StartTime, rec.EndTime, rec.DevicesAttempted, rec.DevicesSynced,
		string(rec.Outcome), rec.Message, results)
	if err != nil {
		return fmt.Errorf("failed to insert sync run %s: %w", rec.ID, err)
	}

	if limit > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM sync_runs WHERE id NOT IN (
				SELECT id FROM sync_runs ORDER BY end_time DESC, start_time DESC LIMIT $1
			)`, limit)
		if err != nil {
			return fmt.Errorf("failed to trim sync runs: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sync run %s: %w", rec.ID, err)
	}
	return nil
}
