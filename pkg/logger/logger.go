// Package logger builds the application's slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/librimoms/club-bot/pkg/config"
)

var level = new(slog.LevelVar)

// New creates a slog.Logger configured from cfg. Sensitive attributes are always masked.
func New(cfg config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Logger.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			MaxSize:    orDefault(cfg.Logger.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.Logger.MaxBackups, 5),
			MaxAge:     orDefault(cfg.Logger.MaxAgeDays, 14),
			Compress:   true,
		})
	}

	return NewWithWriter(cfg, out)
}

// NewWithWriter is New with an explicit destination, used by tests.
func NewWithWriter(cfg config.Config, out io.Writer) *slog.Logger {
	SetLevel(cfg.Logger.Level)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Logger.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if cfg.Sentry.Enabled {
		handler = newFanout(handler, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
	}

	return slog.New(NewMaskingHandler(handler)).With(slog.String("env", cfg.AppEnv))
}

// SetLevel changes the level of every logger produced by New. Unknown names fall back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// Level reports the current shared log level.
func Level() slog.Level {
	return level.Level()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
