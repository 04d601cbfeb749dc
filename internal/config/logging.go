package config

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// SetupLogging configures the global slog logger based on opts.
// Logs always go to stderr, stdout is kept for the report.
// Returns the log file handle (caller must close it) or nil if no file
func SetupLogging(opts LogOptions) (*os.File, error) {
	writers := []io.Writer{os.Stderr}
	var logFile *os.File

	// Add file writer if specified
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logFile = f
		writers = append(writers, f)
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = io.MultiWriter(writers...)
	}

	format := resolveLogFormat(opts.Format, term.IsTerminal(int(os.Stderr.Fd())))
	slog.SetDefault(slog.New(newLogHandler(output, format, parseLogLevel(opts.Level))))

	return logFile, nil
}

// resolveLogFormat maps "auto" to text on a terminal and JSON otherwise
func resolveLogFormat(format string, terminal bool) string {
	if format != "auto" && format != "" {
		return format
	}
	if terminal {
		return "text"
	}
	return "json"
}

func newLogHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	if level == slog.LevelDebug {
		opts.AddSource = true
	}

	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLogLevel converts string to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
