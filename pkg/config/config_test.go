package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level = %q, want INFO", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
	if cfg.Storage.Path == "" {
		t.Error("Storage.Path default not applied")
	}
	if len(cfg.Native.Extensions) == 0 || cfg.Native.Extensions[0] != ".md" {
		t.Errorf("Native.Extensions = %v", cfg.Native.Extensions)
	}
	if len(cfg.Native.IgnoredDirs) == 0 {
		t.Error("Native.IgnoredDirs default not applied")
	}
}

func TestLoadNormalizesLevel(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Logging.Level = %q, want DEBUG", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad level", "logging:\n  level: verbose\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"bad backup type", "backup:\n  type: ftp\n"},
		{"bad extension", "native:\n  extensions: [md]\n"},
		{"s3 without bucket", "backup:\n  type: s3\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level = %q, want INFO", cfg.Logging.Level)
	}
}

func TestBackupSinkConfig(t *testing.T) {
	content := `
backup:
  type: s3
  options:
    bucket: my-backups
    region: eu-west-1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backup.Type != "s3" {
		t.Errorf("Backup.Type = %q", cfg.Backup.Type)
	}
	if cfg.Backup.Options["bucket"] != "my-backups" {
		t.Errorf("Backup.Options = %v", cfg.Backup.Options)
	}
}
