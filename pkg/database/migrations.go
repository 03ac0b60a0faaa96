package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"reservoir/migrations"
	"reservoir/pkg/config"
	"reservoir/pkg/logger"
)

// Migrator применяет миграции goose поверх пула pgx
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
	dir  string
}

// NewMigrator создаёт мигратор. Пустой fsys означает встроенные миграции
// архива задач.
func NewMigrator(pool *pgxpool.Pool, fsys fs.FS, dir string) *Migrator {
	if fsys == nil {
		fsys, dir = migrations.FS, migrations.PostgresDir
	}
	return &Migrator{pool: pool, fsys: fsys, dir: dir}
}

func (m *Migrator) run(fn func(db *sql.DB) error) error {
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	goose.SetBaseFS(m.fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return fn(db)
}

// Up применяет все миграции
func (m *Migrator) Up(ctx context.Context) error {
	err := m.run(func(db *sql.DB) error {
		return goose.UpContext(ctx, db, m.dir)
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Log.Info("Migrations applied successfully", "dir", m.dir)
	return nil
}

// Down откатывает последнюю миграцию
func (m *Migrator) Down(ctx context.Context) error {
	err := m.run(func(db *sql.DB) error {
		return goose.DownContext(ctx, db, m.dir)
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	logger.Log.Info("Migration rolled back successfully", "dir", m.dir)
	return nil
}

// Version текущая версия схемы
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.run(func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

// RunMigrations применяет встроенные миграции, если включено в конфигурации
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, cfg *config.DatabaseConfig) error {
	if !cfg.AutoMigrate {
		logger.Log.Info("Auto-migration is disabled")
		return nil
	}
	return NewMigrator(pool, nil, "").Up(ctx)
}
