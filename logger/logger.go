// Package logger builds the zap logger shared by every component.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction
type Config struct {
	Level       string
	Development bool
	// Dir, when set, adds a JSON log file next to stdout
	Dir      string
	FileName string
}

// New creates a JSON logger with ISO8601 timestamps and short callers
func New(cfg Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	if cfg.Development {
		zapCfg.Development = true
		zapCfg.Sampling = nil
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := cfg.FileName
		if name == "" {
			name = "marketsync.log"
		}
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, filepath.Join(cfg.Dir, name))
	}

	z, err := zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return z, nil
}

// ParseLevel converts a level name into a zapcore.Level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal", "critical":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
