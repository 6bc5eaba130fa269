package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationsTable is where golang-migrate tracks the applied version.
const MigrationsTable = "schema_migrations"

// MigrationManager handles database migrations
// FUNCTIONAL DISCOVERY: Migrations ship inside the binary so a fresh deployment
// needs nothing on disk besides the database file
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// newMigrate binds golang-migrate to the embedded source and the open database.
// TECHNICAL DISCOVERY: The returned instance must not be closed; closing the
// sqlite3 driver closes the shared *sql.DB
func (m *MigrationManager) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(m.db, &sqlite3.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return mg, nil
}

// ApplyMigrations applies all pending migrations
// ARCHITECTURAL DISCOVERY: Already being at the latest version is success
func (m *MigrationManager) ApplyMigrations() error {
	mg, err := m.newMigrate()
	if err != nil {
		return err
	}
	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Version reports the applied schema version and whether the last migration
// left the schema dirty.
func (m *MigrationManager) Version() (uint, bool, error) {
	mg, err := m.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// ValidateSchema ensures database matches expected structure
// FUNCTIONAL DISCOVERY: Schema validation prevents runtime errors from
// structural mismatches between code expectations and database reality
func (m *MigrationManager) ValidateSchema() error {
	v := NewSchemaValidator(m.db)
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}
