package logging

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const levelKey = "log.level"

// NewLogger returns a zap logger configured for structured production logging.
func NewLogger(level string) (*zap.Logger, error) {
	logger, _, err := NewLeveledLogger(level)
	return logger, err
}

// NewLeveledLogger returns a production logger together with the level handle that retunes it.
func NewLeveledLogger(level string) (*zap.Logger, zap.AtomicLevel, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := cfg.Build()
	if err != nil {
		return nil, cfg.Level, err
	}
	return logger, cfg.Level, nil
}

// ParseLevel maps a configured level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WatchLevel retunes level whenever the config file backing configViper changes.
// It is a no-op when no config file is in use.
func WatchLevel(configViper *viper.Viper, level zap.AtomicLevel, logger *zap.Logger) {
	if configViper.ConfigFileUsed() == "" {
		return
	}
	configViper.OnConfigChange(func(event fsnotify.Event) {
		ApplyLevel(configViper, level, logger, event)
	})
	configViper.WatchConfig()
}

// ApplyLevel reads log.level from configViper and applies it when it changed.
func ApplyLevel(configViper *viper.Viper, level zap.AtomicLevel, logger *zap.Logger, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	next := ParseLevel(configViper.GetString(levelKey))
	if next == level.Level() {
		return
	}
	level.SetLevel(next)
	if logger != nil {
		logger.Info("log level changed",
			zap.String("level", next.String()),
			zap.String("config_file", event.Name))
	}
}
