// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "REPOMIGRATE_DEBUG", validateEnvBool},
		{"logging.default_level", "REPOMIGRATE_LOG_LEVEL", validateEnvLogLevel},

		// Metadata store
		{"database.type", "REPOMIGRATE_DATABASE_TYPE", validateEnvDatabaseType},
		{"database.sqlite.path", "REPOMIGRATE_DATABASE_SQLITE_PATH", nil},
		{"database.mysql.host", "REPOMIGRATE_DATABASE_MYSQL_HOST", nil},
		{"database.mysql.port", "REPOMIGRATE_DATABASE_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "REPOMIGRATE_DATABASE_MYSQL_USERNAME", nil},
		{"database.mysql.password", "REPOMIGRATE_DATABASE_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "REPOMIGRATE_DATABASE_MYSQL_DATABASE", nil},

		// Migration tuning
		{"migrate.page_size", "REPOMIGRATE_MIGRATE_PAGE_SIZE", validateEnvPositiveInt},
		{"migrate.checkpoint_interval", "REPOMIGRATE_MIGRATE_CHECKPOINT_INTERVAL", validateEnvPositiveInt},
		{"migrate.dispatch_pool_size", "REPOMIGRATE_MIGRATE_DISPATCH_POOL_SIZE", validateEnvNonNegativeInt},
		{"migrate.node_pool_size", "REPOMIGRATE_MIGRATE_NODE_POOL_SIZE", validateEnvPositiveInt},
		{"migrate.stale_timeout", "REPOMIGRATE_MIGRATE_STALE_TIMEOUT", validateEnvDuration},
		{"migrate.instance_id", "REPOMIGRATE_INSTANCE_ID", nil},

		{"reconcile.enabled", "REPOMIGRATE_RECONCILE_ENABLED", validateEnvBool},
		{"metrics.enabled", "REPOMIGRATE_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "REPOMIGRATE_METRICS_LISTEN", nil},
		{"telemetry.enabled", "REPOMIGRATE_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "REPOMIGRATE_TELEMETRY_DSN", nil},
	}
}

// bindEnvVars binds every environment variable and validates the ones that are set
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvDatabaseType(value string) error {
	if value != DatabaseSQLite && value != DatabaseMySQL {
		return fmt.Errorf("must be %s or %s", DatabaseSQLite, DatabaseMySQL)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be zero or a positive integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 10m")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
