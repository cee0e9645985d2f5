// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateDatabaseSettings(&settings.Database); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateStorageSettings(&settings.Storage); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMigrateSettings(&settings.Migrate); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateReconcileSettings(&settings.Reconcile); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(settings.Metrics.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("metrics listen address %q is invalid: %v", settings.Metrics.Listen, err))
		}
	}

	if settings.Telemetry.Enabled && settings.Telemetry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry is enabled but no dsn is set")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(db *DatabaseSettings) error {
	switch db.Type {
	case DatabaseSQLite:
		if db.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DatabaseMySQL:
		var missing []string
		if db.MySQL.Host == "" {
			missing = append(missing, "host")
		}
		if db.MySQL.Username == "" {
			missing = append(missing, "username")
		}
		if db.MySQL.Database == "" {
			missing = append(missing, "database")
		}
		if len(missing) > 0 {
			return fmt.Errorf("database.mysql is missing %s", strings.Join(missing, ", "))
		}
		if db.MySQL.Port < 1 || db.MySQL.Port > 65535 {
			return fmt.Errorf("database.mysql.port %d is out of range", db.MySQL.Port)
		}
	default:
		return fmt.Errorf("database.type %q is not supported", db.Type)
	}
	return nil
}

func validateStorageSettings(storage *StorageSettings) error {
	var errs []string

	if err := validateCredential("default", &storage.Default); err != nil {
		errs = append(errs, err.Error())
	}

	for key, cred := range storage.Credentials {
		if key == "" || key == "default" {
			errs = append(errs, fmt.Sprintf("storage credential name %q is reserved", key))
			continue
		}
		if err := validateCredential(key, &cred); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("storage: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCredential(name string, cred *CredentialSettings) error {
	switch cred.Type {
	case StorageTypeLocal:
		if cred.Path == "" {
			return fmt.Errorf("credential %s: path is required for local storage", name)
		}
	case StorageTypeSFTP:
		if cred.Host == "" || cred.Username == "" {
			return fmt.Errorf("credential %s: host and username are required for sftp", name)
		}
		if cred.Password == "" && cred.KeyFile == "" {
			return fmt.Errorf("credential %s: password or key_file is required for sftp", name)
		}
	case StorageTypeFTP:
		if cred.Host == "" {
			return fmt.Errorf("credential %s: host is required for ftp", name)
		}
	default:
		return fmt.Errorf("credential %s: unsupported storage type %q", name, cred.Type)
	}
	return nil
}

func validateMigrateSettings(m *MigrateSettings) error {
	var errs []string

	if m.PageSize < 1 {
		errs = append(errs, "page_size must be positive")
	}
	if m.CheckpointInterval < 1 {
		errs = append(errs, "checkpoint_interval must be positive")
	}
	if m.DispatchPoolSize < 0 {
		errs = append(errs, "dispatch_pool_size must not be negative")
	}
	if m.NodePoolSize < 1 {
		errs = append(errs, "node_pool_size must be positive")
	}
	if m.CopyRetries < 0 {
		errs = append(errs, "copy_retries must not be negative")
	}
	if m.HeartbeatInterval <= 0 {
		errs = append(errs, "heartbeat_interval must be positive")
	}
	if m.StaleTimeout <= m.HeartbeatInterval {
		errs = append(errs, "stale_timeout must be longer than heartbeat_interval")
	}
	if m.SchedulerInterval <= 0 {
		errs = append(errs, "scheduler_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("migrate: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateReconcileSettings(r *ReconcileSettings) error {
	if !r.Enabled {
		return nil
	}
	if r.Interval <= 0 {
		return fmt.Errorf("reconcile: interval must be positive")
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("reconcile: batch_size must be positive")
	}
	if r.RateLimit < 0 {
		return fmt.Errorf("reconcile: rate_limit must not be negative")
	}
	return nil
}
