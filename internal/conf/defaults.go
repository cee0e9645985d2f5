// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/repomigrate/internal/logger"
)

// Default migration tuning
const (
	DefaultPageSize             = 1000
	DefaultCheckpointInterval   = 100
	DefaultNodePoolSize         = 8
	DefaultCopyRetries          = 3
	DefaultCopyBackoff          = time.Second
	DefaultSchedulerInterval    = 30 * time.Second
	DefaultStaleTimeout         = 10 * time.Minute
	DefaultHeartbeatInterval    = time.Minute
	DefaultFailedNodeMaxRetries = 3
)

// setDefaultConfig declares a default for every configuration key
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	viper.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	viper.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	viper.SetDefault("logging.file_output.compress", false)
	viper.SetDefault("logging.activity.enabled", false)
	viper.SetDefault("logging.activity.path", logger.DefaultActivityLogPath)
	viper.SetDefault("logging.activity.level", logger.DefaultLogLevel)

	viper.SetDefault("database.type", DatabaseSQLite)
	viper.SetDefault("database.sqlite.path", "data")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.username", "repomigrate")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "repomigrate")
	viper.SetDefault("database.mysql.max_open_conns", 25)
	viper.SetDefault("database.slow_query_threshold", 200*time.Millisecond)

	viper.SetDefault("storage.default.type", StorageTypeLocal)
	viper.SetDefault("storage.default.path", "data/blobs")
	viper.SetDefault("storage.default.compress", false)

	viper.SetDefault("migrate.page_size", DefaultPageSize)
	viper.SetDefault("migrate.checkpoint_interval", DefaultCheckpointInterval)
	viper.SetDefault("migrate.dispatch_pool_size", 0)
	viper.SetDefault("migrate.node_pool_size", DefaultNodePoolSize)
	viper.SetDefault("migrate.copy_retries", DefaultCopyRetries)
	viper.SetDefault("migrate.copy_backoff", DefaultCopyBackoff)
	viper.SetDefault("migrate.scheduler_interval", DefaultSchedulerInterval)
	viper.SetDefault("migrate.stale_timeout", DefaultStaleTimeout)
	viper.SetDefault("migrate.heartbeat_interval", DefaultHeartbeatInterval)
	viper.SetDefault("migrate.failed_node_max_retries", DefaultFailedNodeMaxRetries)
	viper.SetDefault("migrate.instance_id", "")

	viper.SetDefault("reconcile.enabled", true)
	viper.SetDefault("reconcile.interval", 5*time.Minute)
	viper.SetDefault("reconcile.batch_size", 500)
	viper.SetDefault("reconcile.rate_limit", 50.0)
	viper.SetDefault("reconcile.burst", 10)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9464")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
	viper.SetDefault("telemetry.environment", "production")
	viper.SetDefault("telemetry.sample_rate", 1.0)
}
