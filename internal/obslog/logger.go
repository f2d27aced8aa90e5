// Package obslog builds the process-wide structured logger: slog with a
// lumberjack-backed rotating file writer, configured from a 0-5 integer
// level scale instead of a string level.
package obslog

import (
	"io"
	"os"
	"strings"

	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/onyxcharts/export-service/internal/config"
)

// New builds a slog.Logger from the service's LoggingConfig.
func New(cfg config.LoggingConfig) *slog.Logger {
	level := levelFromInt(cfg.Level)
	writer := writerFor(cfg)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Dest, "stdout") || strings.EqualFold(cfg.Dest, "stderr") {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler)
}

// levelFromInt maps a 0-5 level scale to slog levels. 0 is the most
// verbose (trace-like, treated as Debug since slog has no Trace level),
// 5 silences everything below Error.
func levelFromInt(level int) slog.Level {
	switch {
	case level <= 1:
		return slog.LevelDebug
	case level == 2:
		return slog.LevelInfo
	case level == 3:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func writerFor(cfg config.LoggingConfig) io.Writer {
	if cfg.ToFile && cfg.File != "" {
		return &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
	}

	switch strings.ToLower(cfg.Dest) {
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}
