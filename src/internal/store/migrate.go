package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/mysql/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrationDir 每种方言对应的迁移目录
func migrationDir(dialect goose.Dialect) (fs.FS, error) {
	var dir string
	switch dialect {
	case goose.DialectMySQL:
		dir = "migrations/mysql"
	case goose.DialectPostgres:
		dir = "migrations/postgres"
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %s", dialect)
	}
	return fs.Sub(migrationsFS, dir)
}

// runMigrations 执行所有未应用的迁移
func runMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect) ([]string, error) {
	fsys, err := migrationDir(dialect)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	applied := make([]string, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Path)
	}
	return applied, nil
}
