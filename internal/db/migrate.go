package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/online-library/apiserver/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NewMigrator returns a migrator over the embedded schema migrations.
// Callers must Close it.
func NewMigrator(cfg config.Config) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, URL(cfg))
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration. An up-to-date schema is not an error.
func MigrateUp(cfg config.Config) error {
	return runMigration(cfg, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back steps migrations, or all of them when steps < 1.
func MigrateDown(cfg config.Config, steps int) error {
	return runMigration(cfg, func(m *migrate.Migrate) error {
		if steps < 1 {
			return m.Down()
		}
		return m.Steps(-steps)
	})
}

func runMigration(cfg config.Config, fn func(m *migrate.Migrate) error) error {
	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
