// Package database provides the PostgreSQL schema and migration tooling.
package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsFromSource returns a migration source driver from the embedded migrations.
func migrationsFromSource() (source.Driver, error) {
	return iofs.New(migrationsFS, "migrations")
}

// Migrator is the interface for the migration tooling.
type Migrator interface {
	Up() error
	Down() error
	Steps(int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

// NewFromConnectionString returns a new migration instance for a postgres:// connection string.
func NewFromConnectionString(connString string) (Migrator, error) {
	d, err := migrationsFromSource()
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", d, toMigrateURL(connString))
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an error.
func MigrateUp(connString string) error {
	m, err := NewFromConnectionString(connString)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the given number of migrations.
func MigrateDown(connString string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, err := NewFromConnectionString(connString)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

func closeMigrator(m Migrator) {
	_, _ = m.Close()
}

// toMigrateURL rewrites the scheme so golang-migrate picks its pgx v5 driver.
func toMigrateURL(connString string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(connString, prefix) {
			return "pgx5://" + strings.TrimPrefix(connString, prefix)
		}
	}
	return connString
}
