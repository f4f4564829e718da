package config

import (
	"path/filepath"
	"strings"

	"github.com/quillfs/quillfs/pkg/store/native"
)

// ApplyDefaults fills in any unspecified configuration values. Zero
// values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applyNativeDefaults(&cfg.Native)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(getDataDir(), "db")
	}
}

func applyNativeDefaults(cfg *NativeConfig) {
	if len(cfg.IgnoredDirs) == 0 {
		cfg.IgnoredDirs = append([]string(nil), native.DefaultIgnoredDirs...)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = append([]string(nil), native.DefaultExtensions...)
	}
}
