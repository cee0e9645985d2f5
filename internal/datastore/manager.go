// Package datastore provides the GORM backed metadata store for migration
// tasks, the node catalog, block lists, reference counts and repository
// write targets.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/logger"
)

// DatabaseFileName is the SQLite file created inside Config.DataDir
const DatabaseFileName = "repomigrate.db"

// Manager defines the interface for metadata store lifecycle.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location (file path for SQLite, host/database for MySQL).
	Path() string
	// Close closes the database connection.
	Close() error
	// Delete removes the database (file for SQLite, tables for MySQL).
	Delete() error
	// Exists checks if the database exists.
	Exists() bool
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// Config holds SQLite configuration.
type Config struct {
	// DataDir is the directory containing the database file.
	DataDir string
	// Logger receives GORM statements; nil discards them.
	Logger logger.Logger
	// SlowQueryThreshold marks statements logged at WARN.
	SlowQueryThreshold time.Duration
}

// allEntities lists every model migrated by Initialize
func allEntities() []any {
	return []any{
		&entities.MigrationTask{},
		&entities.Node{},
		&entities.BlockNode{},
		&entities.FileReference{},
		&entities.Repository{},
		&entities.MigrateFailedNode{},
	}
}

// gormConfig returns the settings shared by both dialects. Timestamps are
// generated in UTC with millisecond precision so SQLite text comparison and
// MySQL datetime(3) agree.
func gormConfig(log logger.Logger, slowThreshold time.Duration) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(log, slowThreshold),
		TranslateError: true,
		NowFunc:        Now,
	}
}

// Now returns the store's notion of the current time
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// normalizeTime converts t to the stored representation
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// SQLiteManager handles the SQLite metadata store.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens DataDir/repomigrate.db, creating the directory if needed.
func NewSQLiteManager(cfg Config) (*SQLiteManager, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	dbPath := filepath.Join(cfg.DataDir, DatabaseFileName)

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Logger, cfg.SlowQueryThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers; SQLite allows a single writer anyway
	// and this removes SQLITE_BUSY on transaction upgrades.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteManager{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Initialize creates the schema.
func (m *SQLiteManager) Initialize() error {
	if err := m.db.AutoMigrate(allEntities()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// Delete closes and removes the database file with its WAL and SHM files.
func (m *SQLiteManager) Delete() error {
	if err := m.Close(); err != nil {
		return fmt.Errorf("failed to close database before deletion: %w", err)
	}

	if err := os.Remove(m.dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete database file: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(m.dbPath + suffix)
	}

	return nil
}

// Exists checks if the database file exists.
func (m *SQLiteManager) Exists() bool {
	_, err := os.Stat(m.dbPath)
	return err == nil
}

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool {
	return false
}
