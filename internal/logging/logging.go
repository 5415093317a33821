// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/menta2k/food-detector/internal/config"
)

// NewEncoderConfig is zap's development encoder config with production keys and colored levels
func NewEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New returns a console logger at the configured level. When cfg.File is set,
// entries are also written as JSON to a size-rotated file.
func New(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
		}
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(NewEncoderConfig()), zapcore.Lock(os.Stdout), level),
	}
	if cfg.File != "" {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.AddSync(newRotator(cfg)), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar(), nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	enc := NewEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return enc
}

func newRotator(cfg config.LogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
}
