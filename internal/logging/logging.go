// Package logging configures the process-wide slog logger, following the
// teacher's internal/utils.ConfigureDefaultLogger shape: a text handler to
// stdout for interactive use, or a JSON handler to a log file when one is
// configured.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure sets the default slog logger for the given level and optional
// log file path. Valid levels are "none", "error", "warn", "info",
// "debug"; any other value returns an error.
//
// Returns the *os.File the logger now writes to, so the caller can close
// it on shutdown:
//
//	f, err := logging.Configure("info", "", slog.HandlerOptions{})
//	if f != nil {
//		defer f.Close()
//	}
func Configure(level string, logFile string, opts slog.HandlerOptions) (*os.File, error) {
	switch level {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("logging: unexpected log level " + level)
	}

	var logFilePointer *os.File
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logFilePointer = f
		handler = slog.NewJSONHandler(f, &opts)
	}

	slog.SetDefault(slog.New(handler))
	return logFilePointer, nil
}
