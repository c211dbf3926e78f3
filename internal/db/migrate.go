package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/Skotchmaster/autho/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the schema up to date. Postgres runs the versioned SQL
// migrations; sqlite, used for development and tests, is auto-migrated.
func Migrate(ctx context.Context, db *gorm.DB, d Dialect) error {
	if d == SQLite {
		if err := db.WithContext(ctx).AutoMigrate(
			&models.User{},
			&models.ProviderLink{},
			&models.RefreshToken{},
			&models.PendingState{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectPostgres, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
