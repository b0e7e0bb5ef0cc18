package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	creditdomain "github.com/shortyai/creditdesk/internal/credit/domain"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	pkgdb "github.com/shortyai/creditdesk/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate brings the schema up to date. Postgres uses the versioned SQL
// files; mysql and sqlite are created from the gorm models.
func Migrate(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if strings.EqualFold(strings.TrimSpace(dbType), pkgdb.TypePostgres) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&profiledomain.Profile{},
		&paymentdomain.Notification{},
		&creditdomain.Entry{},
		&identitydomain.Session{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
