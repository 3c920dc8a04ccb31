package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/tiemposla/bancaledger/internal/audit/domain"
	commissiondomain "github.com/tiemposla/bancaledger/internal/commission/domain"
	drawingdomain "github.com/tiemposla/bancaledger/internal/drawing/domain"
	ledgerdomain "github.com/tiemposla/bancaledger/internal/ledger/domain"
	lotterydomain "github.com/tiemposla/bancaledger/internal/lottery/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations applies the embedded postgres migrations so the schema is
// usable out of the box for local and self-hosted environments.
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

// AutoMigrate builds the schema through gorm for dialects the embedded SQL
// does not target (sqlite and mysql local modes).
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.PaymentDocument{},
		&lotterydomain.Lottery{},
		&lotterydomain.Multiplier{},
		&drawingdomain.Outlet{},
		&drawingdomain.Seller{},
		&drawingdomain.Drawing{},
		&drawingdomain.Ticket{},
		&drawingdomain.Bet{},
		&drawingdomain.ExclusionListing{},
		&commissiondomain.CommissionPolicy{},
		&auditdomain.AuditLog{},
	)
}
