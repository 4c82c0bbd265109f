// Package logging builds the daemon's zap logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how verbosely the daemon logs.
type Options struct {
	Path    string // JSON log file
	Session string
	Level   string // zap level name; empty means info
	Stderr  bool   // also write console-formatted lines to stderr
}

// New returns a logger that writes JSON lines to opts.Path and optionally
// mirrors them to stderr. Every entry carries the session name and PID.
// TEAMSYNC_DEBUG forces debug level.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	if os.Getenv("TEAMSYNC_DEBUG") != "" {
		level = zapcore.DebugLevel
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level)}
	if opts.Stderr {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("session", opts.Session),
			zap.Int("pid", os.Getpid()),
		),
	), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Secret logs only the length and last four characters of a credential.
func Secret(key, value string) zap.Field {
	if len(value) <= 4 {
		return zap.String(key, fmt.Sprintf("[%d chars]", len(value)))
	}
	return zap.String(key, fmt.Sprintf("...%s [%d chars]", value[len(value)-4:], len(value)))
}
