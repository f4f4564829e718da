// Package logger provides the process-wide structured logger for QuillFS.
//
// The package exposes a small printf-style facade (Debug/Info/Warn/Error)
// backed by zap, so callers never import zap directly. Init must be called
// once at startup; before that, a no-op logger is installed.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log   = zap.NewNop().Sugar()
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config controls logger behavior. The zero value means INFO, text, stdout.
type Config struct {
	// Level is the minimum level to emit: DEBUG, INFO, WARN, ERROR.
	Level string

	// Format selects the encoder: "text" or "json".
	Format string

	// Output is "stdout", "stderr", or a file path.
	Output string
}

// Init builds and installs the global logger from config.
func Init(cfg Config) error {
	if cfg.Level != "" {
		if err := setLevel(cfg.Level); err != nil {
			return err
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "" || cfg.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}

	l, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	log = l.Sugar()
	return nil
}

// SetLevel changes the minimum level at runtime. Unknown levels are ignored.
func SetLevel(lvl string) {
	_ = setLevel(lvl)
}

func setLevel(lvl string) error {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.ToLower(lvl))); err != nil {
		return fmt.Errorf("unknown log level %q: %w", lvl, err)
	}
	level.SetLevel(zl)
	return nil
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = log.Sync()
}

func Debug(format string, v ...any) {
	log.Debugf(format, v...)
}

func Info(format string, v ...any) {
	log.Infof(format, v...)
}

func Warn(format string, v ...any) {
	log.Warnf(format, v...)
}

func Error(format string, v ...any) {
	log.Errorf(format, v...)
}
