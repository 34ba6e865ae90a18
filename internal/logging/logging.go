package logging

import (
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Init sets a JSON or text slog handler based on the provided format.
// Supported: "json" (default), "text", and "auto" which picks text on a terminal.
func Init(service, format string) *slog.Logger {
	format = strings.ToLower(strings.TrimSpace(format))
	opts := &slog.HandlerOptions{Level: levelFromEnv()}

	var handler slog.Handler
	switch resolve(format, term.IsTerminal(int(os.Stdout.Fd()))) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)

	if format != "" && format != "json" && format != "text" && format != "auto" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
	return logger
}

func resolve(format string, tty bool) string {
	switch format {
	case "text":
		return "text"
	case "auto":
		if tty {
			return "text"
		}
		return "json"
	default:
		return "json"
	}
}

// LOG_LEVEL: debug, info (default), warn, error.
func levelFromEnv() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
