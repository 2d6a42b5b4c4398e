// Package observability builds the process logger.
package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/config"
)

// Option adjusts SetupLogger.
type Option func(*options)

type options struct {
	console io.Writer
}

// WithConsole sends the stdout and stderr outputs to w instead, so log
// lines do not corrupt an interactive prompt.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// SetupLogger builds a zap.Logger from the provided configuration, sets it
// as the global logger, and redirects the stdlib log package. The returned
// restore func puts the previous global and stdlib loggers back. The caller
// should defer restore() and logger.Sync().
func SetupLogger(c config.LogConfig, opts ...Option) (*zap.Logger, func(), error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	level := ParseLevel(c.Level)

	encCfg := encoderConfig(c.Development)
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		ws, err := writeSyncer(out, c, o.console)
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	zapOpts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		zapOpts = append(zapOpts, zap.Development())
	}

	logger := zap.New(zapcore.NewTee(cores...), zapOpts...)
	undoStdLog, err := zap.RedirectStdLogAt(logger, zap.InfoLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("redirect std log: %w", err)
	}
	undoGlobals := zap.ReplaceGlobals(logger)
	restore := func() {
		undoGlobals()
		undoStdLog()
	}
	return logger, restore, nil
}

// ParseLevel maps a configured level name to a zap level, defaulting to
// info.
func ParseLevel(s string) zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

func writeSyncer(out string, c config.LogConfig, console io.Writer) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "stdout", "stderr":
		if console != nil {
			return zapcore.Lock(zapcore.AddSync(console)), nil
		}
	}
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	if c.Rotation.Enable {
		filename := out
		if strings.TrimSpace(c.Rotation.Filename) != "" {
			filename = c.Rotation.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    max(c.Rotation.MaxSizeMB, 1),
			MaxBackups: max(c.Rotation.MaxBackups, 1),
			MaxAge:     max(c.Rotation.MaxAgeDays, 1),
			Compress:   c.Rotation.Compress,
		}), nil
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
