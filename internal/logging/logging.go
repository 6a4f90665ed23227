// Package logging wires log/slog's JSON handler to a size-rotated file,
// shared by the CLI process and the shim.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls handler construction.
type Options struct {
	// Debug raises the level from info to debug.
	Debug bool
	// Path is the log file; empty means stderr (tests, ad hoc runs).
	Path string
}

// Setup installs the default slog logger. When Path is set, output goes
// through a rotating file writer so long-lived shims don't fill the
// disk. Returns the writer for callers that need to close it.
func Setup(opts Options) (io.Closer, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    50, // MiB
			MaxBackups: 7,
			MaxAge:     7, // days
			Compress:   true,
		}
		w = lj
		closer = lj
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	slog.Info("slog initialized", "path", opts.Path, "debug", opts.Debug)
	return closer, nil
}

// ShimLogPath is the rotating log file the shim writes under logsDir.
func ShimLogPath(logsDir string) string {
	return filepath.Join(logsDir, "boxlite-shim.log")
}

// RuntimeLogPath is the log file the CLI/runtime writes under logsDir.
func RuntimeLogPath(logsDir string) string {
	return filepath.Join(logsDir, "boxlite.log")
}
