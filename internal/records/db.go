package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBStore reads and writes users in PostgreSQL
type DBStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a database-backed store
func NewDBStore(pool *pgxpool.Pool) *DBStore {
	return &DBStore{pool: pool}
}

// ListUsers returns every user with its templates, ordered by uid
func (s *DBStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT uid, user_id, name, privilege, password, group_id, card FROM access_users ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		var (
			u         User
			uid, priv int32
		)
		if err := row.Scan(&uid, &u.UserID, &u.Name, &priv, &u.Password, &u.GroupID, &u.Card); err != nil {
			return User{}, err
		}
		u.UID = int(uid)
		u.Privilege = int(priv)
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}

	index := make(map[int]int, len(users))
	for i, u := range users {
		index[u.UID] = i
	}

	trows, err := s.pool.Query(ctx,
		`SELECT uid, finger_index, data FROM access_templates ORDER BY uid, finger_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var (
			uid    int32
			finger int16
			data   []byte
		)
		if err := trows.Scan(&uid, &finger, &data); err != nil {
			return nil, fmt.Errorf("failed to read template: %w", err)
		}
		if i, ok := index[int(uid)]; ok {
			users[i].Templates = append(users[i].Templates, Template{FingerIndex: int(finger), Data: data})
		}
	}
	if err := trows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}

	return users, nil
}

// Put inserts or replaces a user and its templates in one transaction
func (s *DBStore) Put(ctx context.Context, u User) (err error) {
	if u.UID <= 0 {
		return fmt.Errorf("uid must be positive, got %d", u.UID)
	}
	u = u.Normalize()

	tx, err := s.pool.Begin(ctx)
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
		INSERT INTO access_users (uid, user_id, name, privilege, password, group_id, card)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uid) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			privilege = EXCLUDED.privilege,
			password = EXCLUDED.password,
			group_id = EXCLUDED.group_id,
			card = EXCLUDED.card,
			updated_at = now()`,
		u.UID, u.UserID, u.Name, u.Privilege, u.Password, u.GroupID, u.Card)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", u.UID, err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM access_templates WHERE uid = $1`, u.UID); err != nil {
		return fmt.Errorf("failed to clear templates for user %d: %w", u.UID, err)
	}

	batch := &pgx.Batch{}
	for _, tpl := range u.Templates {
		batch.Queue(`INSERT INTO access_templates (uid, finger_index, data) VALUES ($1, $2, $3)`,
			u.UID, tpl.FingerIndex, tpl.Data)
	}
	if batch.Len() > 0 {
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to store templates for user %d: %w", u.UID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit user %d: %w", u.UID, err)
	}
	return nil
}

// Delete removes a user; templates go with it
func (s *DBStore) Delete(ctx context.Context, uid int) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM access_users WHERE uid = $1`, uid); err != nil {
		return fmt.Errorf("failed to delete user %d: %w", uid, err)
	}
	return nil
}
