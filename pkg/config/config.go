// Package config provides configuration loading and validation for the
// sparse-database assembler.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidWorkerCount   = errors.New("worker count must be positive")
	ErrInvalidBufferSize    = errors.New("output double-buffer size must be positive")
	ErrInvalidGroupSizeCap  = errors.New("context-group byte cap must be positive")
	ErrInvalidOutputDir     = errors.New("output directory must not be empty")
	ErrInvalidTraceBufBytes = errors.New("trace per-thread buffer size must be positive")
)

// Default configuration values.
const (
	defaultOutputDir      = "./sparsedb-out"
	defaultWorkers        = 0 // 0 means runtime.GOMAXPROCS(0).
	defaultBufferSize     = 64 << 20 // 64 MiB, matching the teacher's flush threshold.
	defaultGroupSizeCap   = 3 << 30  // 3 GiB, the context-group byte cap.
	defaultTraceBufBytes  = 1 << 20  // 1 MiB per-thread trace append buffer.
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultMetricsAddr    = "127.0.0.1:9464"
	defaultMetricsEnabled = true
)

// Config holds all configuration for the sparsedb-assemble CLI and the
// assembler library it drives.
type Config struct {
	Output       OutputConfig       `mapstructure:"output"`
	Collective   CollectiveConfig   `mapstructure:"collective"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// OutputConfig controls where and how the three output files are laid out.
type OutputConfig struct {
	Directory        string `mapstructure:"directory"`
	BufferSizeBytes  int    `mapstructure:"buffer_size_bytes"`
	GroupSizeCapBytes int64 `mapstructure:"group_size_cap_bytes"`
	TraceBufferBytes int    `mapstructure:"trace_buffer_bytes"`
}

// CollectiveConfig controls the local-simulation collective allocator and
// the worker count for the transpose engine's profile-parsing phase.
type CollectiveConfig struct {
	Ranks   int `mapstructure:"ranks"`
	Workers int `mapstructure:"workers"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig controls the local metrics/health endpoint.
type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("sparsedb")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/sparsedb-core")
	}

	viperCfg.SetEnvPrefix("SPARSEDB")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("output.directory", defaultOutputDir)
	viperCfg.SetDefault("output.buffer_size_bytes", defaultBufferSize)
	viperCfg.SetDefault("output.group_size_cap_bytes", defaultGroupSizeCap)
	viperCfg.SetDefault("output.trace_buffer_bytes", defaultTraceBufBytes)

	viperCfg.SetDefault("collective.ranks", 1)
	viperCfg.SetDefault("collective.workers", defaultWorkers)

	viperCfg.SetDefault("logging.level", defaultLogLevel)
	viperCfg.SetDefault("logging.format", defaultLogFormat)

	viperCfg.SetDefault("observability.metrics_enabled", defaultMetricsEnabled)
	viperCfg.SetDefault("observability.metrics_addr", defaultMetricsAddr)
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Output.Directory == "" {
		return ErrInvalidOutputDir
	}

	if config.Output.BufferSizeBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, config.Output.BufferSizeBytes)
	}

	if config.Output.GroupSizeCapBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidGroupSizeCap, config.Output.GroupSizeCapBytes)
	}

	if config.Output.TraceBufferBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTraceBufBytes, config.Output.TraceBufferBytes)
	}

	if config.Collective.Ranks <= 0 {
		return fmt.Errorf("%w: ranks=%d", ErrInvalidWorkerCount, config.Collective.Ranks)
	}

	return nil
}
