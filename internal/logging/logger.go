package logging

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cortexuvula/roomchat/internal/config"
)

// Setup configures the global slog logger from the logging config.
// Records go to the rotated file when one is configured and to fallback
// otherwise; the interactive chat command passes io.Discard so log lines do
// not interleave with the transcript.
// The level is shared by every handler Setup has built, so loggers captured
// before a reload still follow the new level.
// Returns the lumberjack logger (if file logging) so it can be closed on shutdown.
func Setup(cfg config.LoggingConfig, fallback io.Writer) *lumberjack.Logger {
	w := fallback
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	level.Set(parseLevel(cfg.Level))
	slog.SetDefault(slog.New(newHandler(w, cfg.Format, &level)))
	return lj
}

var level slog.LevelVar

func newHandler(w io.Writer, format string, lvl slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
