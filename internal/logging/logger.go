// Package logging builds the process logger and records audit entries for
// lifecycle transitions.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// #region config
// Config controls logger construction.
type Config struct {
	Level   string // debug | info | warn | error
	JSON    bool
	Service string
	Output  io.Writer // defaults to stderr
}

// ParseLevel maps a level name onto slog; unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// #endregion config

// #region new
// New returns a structured logger for cfg.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return slog.New(handler)
}

// OrDefault returns l, or slog.Default when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// #endregion new
