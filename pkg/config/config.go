// Package config loads, defaults, and validates the engine
// configuration, and provides the factory functions that turn
// configuration sections into live components.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Native  NativeConfig  `mapstructure:"native"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls the logger backing the whole engine.
type LoggingConfig struct {
	// Level is the minimum severity that gets emitted.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format selects text or json output.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// StorageConfig locates the embedded database holding the registry and
// all local-backend workspaces.
type StorageConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// NativeConfig tunes the native backend's directory walking.
type NativeConfig struct {
	// IgnoredDirs are directory names never recursed into.
	// Dot-prefixed directories are always ignored.
	IgnoredDirs []string `mapstructure:"ignored_dirs"`

	// Extensions are the file extensions the engine manages.
	Extensions []string `mapstructure:"extensions" validate:"dive,startswith=."`
}

// BackupConfig selects and configures the backup sink. Options are
// sink-specific and decoded by the matching factory.
type BackupConfig struct {
	Type    string         `mapstructure:"type" validate:"omitempty,oneof=fs s3"`
	Options map[string]any `mapstructure:"options"`
}

// MetricsConfig toggles Prometheus metrics collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from the given file (or the default
// location when empty), applies defaults, and validates the result.
// Environment variables with the QUILLFS_ prefix override file values,
// e.g. QUILLFS_LOGGING_LEVEL=debug.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("QUILLFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/quillfs, falling back to
// ~/.config/quillfs, or the current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "quillfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "quillfs")
}

// getDataDir returns $XDG_DATA_HOME/quillfs, falling back to
// ~/.local/share/quillfs.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "quillfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "quillfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
