package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" mapstructure:"default_level"`
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"` // "Local", "UTC", or IANA name
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console"`
	FileOutput   *FileOutput       `yaml:"file_output" mapstructure:"file_output"`
	Activity     *ActivityOutput   `yaml:"activity" mapstructure:"activity"`
	ModuleLevels map[string]string `yaml:"module_levels" mapstructure:"module_levels"` // keyed by component name, e.g. "executor"
}

// ConsoleOutput is human-readable text on stdout
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput is the service log, JSON with size based rotation
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" mapstructure:"path"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size"`                   // MB before rotation
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age"`                     // days, 0 keeps everything
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files"` // 0 keeps everything
	Compress        bool   `yaml:"compress" mapstructure:"compress"`
	Level           string `yaml:"level" mapstructure:"level"`
}

// ActivityOutput is the migration activity log. It receives only the
// migration engine components and shares the rotation limits of FileOutput.
type ActivityOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// Defaults, mirrored in conf/defaults.go
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/repomigrate.log"
	DefaultActivityLogPath = "logs/migration.log"
	DefaultMaxSize         = 100
	DefaultMaxAge          = 30
	DefaultMaxRotatedFiles = 10
)

func (c *LoggingConfig) withDefaults() LoggingConfig {
	out := *c
	if out.DefaultLevel == "" {
		out.DefaultLevel = DefaultLogLevel
	}
	if out.Console == nil {
		out.Console = &ConsoleOutput{Enabled: true, Level: out.DefaultLevel}
	}
	if out.FileOutput == nil {
		out.FileOutput = &FileOutput{Path: DefaultLogPath}
	}
	if out.Activity == nil {
		out.Activity = &ActivityOutput{Path: DefaultActivityLogPath}
	}
	return out
}

// levelOr returns level, or fallback when level is empty
func levelOr(level, fallback string) string {
	if level == "" {
		return fallback
	}
	return level
}
