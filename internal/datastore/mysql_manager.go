package datastore

import (
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/repomigrate/internal/logger"
)

// MySQLConfig holds MySQL-specific configuration.
type MySQLConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	// DSN overrides the connection fields when set, e.g. for test containers.
	DSN                string
	Logger             logger.Logger
	SlowQueryThreshold time.Duration
}

// MySQLManager handles a shared MySQL metadata store. Several repomigrate
// processes may point at the same database; they coordinate only through
// the state CAS in TaskStore.
type MySQLManager struct {
	db       *gorm.DB
	location string
}

// FormatDSN builds the driver DSN for cfg. clientFoundRows is always on:
// the CAS updates read RowsAffected as "rows matched", which is what SQLite
// reports and what MySQL reports only with this flag.
func (cfg *MySQLConfig) FormatDSN() string {
	if cfg.DSN != "" {
		if parsed, err := mysqldriver.ParseDSN(cfg.DSN); err == nil {
			parsed.ClientFoundRows = true
			parsed.ParseTime = true
			return parsed.FormatDSN()
		}
		return cfg.DSN
	}
	dc := mysqldriver.NewConfig()
	dc.User = cfg.Username
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.ClientFoundRows = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// NewMySQLManager opens a MySQL metadata store.
func NewMySQLManager(cfg *MySQLConfig) (*MySQLManager, error) {
	dsn := cfg.FormatDSN()

	location := fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	if parsed, err := mysqldriver.ParseDSN(dsn); err == nil {
		location = parsed.Addr + "/" + parsed.DBName
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig(cfg.Logger, cfg.SlowQueryThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(10, maxOpen))
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &MySQLManager{
		db:       db,
		location: location,
	}, nil
}

// Initialize creates the schema tables.
func (m *MySQLManager) Initialize() error {
	if err := m.db.AutoMigrate(allEntities()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database location (host:port/database).
func (m *MySQLManager) Path() string {
	return m.location
}

// Close closes the database connection.
func (m *MySQLManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// Delete drops every table owned by this store.
func (m *MySQLManager) Delete() error {
	migrator := m.db.Migrator()
	tables := allEntities()
	for i := len(tables) - 1; i >= 0; i-- {
		if err := migrator.DropTable(tables[i]); err != nil {
			return fmt.Errorf("failed to drop table for %T: %w", tables[i], err)
		}
	}
	return nil
}

// Exists checks if the task table exists.
func (m *MySQLManager) Exists() bool {
	return m.db.Migrator().HasTable("migrate_repo_storage_tasks")
}

// IsMySQL returns true for MySQL manager.
func (m *MySQLManager) IsMySQL() bool {
	return true
}
