package database

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"storybook-server/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ApplyMigrations применяет встроенные миграции схемы книг.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	m := migration.NewMigrator(migration.Config{
		MigrationsPath: "migrations",
		MigrationsFS:   migrationsFS,
	}, pool)

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("не удалось применить миграции: %w", err)
	}
	return nil
}

// RollbackMigrations откатывает все миграции. Используется в тестах.
func RollbackMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	m := migration.NewMigrator(migration.Config{
		MigrationsPath: "migrations",
		MigrationsFS:   migrationsFS,
	}, pool)
	return m.Down(ctx)
}
