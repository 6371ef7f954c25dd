// Package logger builds the zap loggers used by every server component.
package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/delsolprimehomes/leadclaim/server/internal/config"
)

const (
	// A log file larger than maxFileSize is cut down to its last keepFileSize
	// bytes when the logger opens it.
	maxFileSize  = 5 * 1024 * 1024
	keepFileSize = 512 * 1024
)

// New creates a zap logger from configuration.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var output zapcore.WriteSyncer
	if cfg.File != "" {
		if err := trimFile(cfg.File); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = zapcore.AddSync(file)
	} else {
		output = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, output, level)
	return zap.New(core, zap.AddCaller()), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// trimFile keeps the tail of an oversized log file so restarts do not grow it
// without bound.
func trimFile(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= maxFileSize {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file for trimming: %w", err)
	}
	if _, err := f.Seek(info.Size()-keepFileSize, io.SeekStart); err != nil {
		f.Close()
		return fmt.Errorf("seek in log file: %w", err)
	}
	tail, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read log file tail: %w", err)
	}

	header := fmt.Sprintf("=== log trimmed from %d bytes ===\n", info.Size())
	return os.WriteFile(path, append([]byte(header), tail...), 0600)
}

// GormWriter adapts a zap logger to the Printf writer expected by GORM's logger.
type GormWriter struct {
	sugar *zap.SugaredLogger
}

// NewGormWriter returns a GORM log writer backed by l.
func NewGormWriter(l *zap.Logger) *GormWriter {
	return &GormWriter{sugar: l.With(zap.String("component", "gorm")).Sugar()}
}

// Printf implements gorm.io/gorm/logger.Writer.
func (w *GormWriter) Printf(format string, args ...interface{}) {
	w.sugar.Warnf(format, args...)
}
