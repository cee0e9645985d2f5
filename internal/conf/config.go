// Package conf loads repomigrate settings from config.yaml, environment and flags.
package conf

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// Storage backend types
const (
	StorageTypeLocal = "local"
	StorageTypeSFTP  = "sftp"
	StorageTypeFTP   = "ftp"
)

// Database types
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// Settings is the root configuration
type Settings struct {
	Debug     bool                 `mapstructure:"debug" yaml:"debug"`
	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Database  DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Storage   StorageSettings      `mapstructure:"storage" yaml:"storage"`
	Migrate   MigrateSettings      `mapstructure:"migrate" yaml:"migrate"`
	Reconcile ReconcileSettings    `mapstructure:"reconcile" yaml:"reconcile"`
	Metrics   MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
}

// DatabaseSettings selects and configures the metadata store
type DatabaseSettings struct {
	Type               string         `mapstructure:"type" yaml:"type"` // sqlite or mysql
	SQLite             SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL              MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
	SlowQueryThreshold time.Duration  `mapstructure:"slow_query_threshold" yaml:"slow_query_threshold"`
}

// SQLiteSettings configures the embedded metadata store
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"` // directory holding repomigrate.db
}

// MySQLSettings configures a shared metadata store; required when several
// repomigrate processes coordinate through the claim CAS
type MySQLSettings struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Username     string `mapstructure:"username" yaml:"username"`
	Password     string `mapstructure:"password" yaml:"password"`
	Database     string `mapstructure:"database" yaml:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// StorageSettings holds the default credential set and the named ones
type StorageSettings struct {
	Default     CredentialSettings            `mapstructure:"default" yaml:"default"`
	Credentials map[string]CredentialSettings `mapstructure:"credentials" yaml:"credentials"`
}

// CredentialSettings describes one blob backend. Only the fields of the
// selected Type are used.
type CredentialSettings struct {
	Type string `mapstructure:"type" yaml:"type"`

	// local
	Path     string `mapstructure:"path" yaml:"path"`
	Compress bool   `mapstructure:"compress" yaml:"compress"`

	// sftp and ftp
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	BasePath       string        `mapstructure:"base_path" yaml:"base_path"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KeyFile        string        `mapstructure:"key_file" yaml:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file" yaml:"known_hosts_file"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
}

// MigrateSettings tunes the migration executor and scheduler
type MigrateSettings struct {
	PageSize             int           `mapstructure:"page_size" yaml:"page_size"`
	CheckpointInterval   int           `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval"`
	DispatchPoolSize     int           `mapstructure:"dispatch_pool_size" yaml:"dispatch_pool_size"` // 0 = CPU count
	NodePoolSize         int           `mapstructure:"node_pool_size" yaml:"node_pool_size"`
	CopyRetries          int           `mapstructure:"copy_retries" yaml:"copy_retries"`
	CopyBackoff          time.Duration `mapstructure:"copy_backoff" yaml:"copy_backoff"`
	SchedulerInterval    time.Duration `mapstructure:"scheduler_interval" yaml:"scheduler_interval"`
	StaleTimeout         time.Duration `mapstructure:"stale_timeout" yaml:"stale_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	FailedNodeMaxRetries int           `mapstructure:"failed_node_max_retries" yaml:"failed_node_max_retries"`
	InstanceID           string        `mapstructure:"instance_id" yaml:"instance_id"` // written to last_modified_by
}

// ReconcileSettings tunes the pending-copy reconciler
type ReconcileSettings struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	BatchSize int           `mapstructure:"batch_size" yaml:"batch_size"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // nodes per second, 0 = unlimited
	Burst     int           `mapstructure:"burst" yaml:"burst"`
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// TelemetrySettings configures Sentry error reporting
type TelemetrySettings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	DSN         string  `mapstructure:"dsn" yaml:"dsn"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Credential returns the settings for a storage key, the empty key being the default
func (s *StorageSettings) Credential(key string) (CredentialSettings, bool) {
	if key == "" {
		return s.Default, true
	}
	c, ok := s.Credentials[key]
	return c, ok
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from configFile, or from config.yaml in the
// default search paths when configFile is empty. A missing config file is not
// an error; defaults and environment variables still apply.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "init-viper").
			Build()
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if settings.Migrate.InstanceID == "" {
		settings.Migrate.InstanceID = defaultInstanceID()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper declares defaults, binds the environment and reads the config file
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Newf("error reading config file %s: %w", configFile, err).
				Category(errors.CategoryConfiguration).
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Newf("fatal error reading config file: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "repomigrate"))
	}
	return append(paths, "/etc/repomigrate")
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// ConfigFileUsed returns the config file viper read, if any
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "repomigrate"
	}
	return host
}
