package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// DevMode indicates if development logging is enabled
	DevMode = os.Getenv("DEV_MODE") == "1"
	// Logger is the shared logger instance
	Logger *log.Logger
	// JSONMode switches structured loggers created via For to JSON output.
	JSONMode bool
)

func init() {
	Logger = log.Default()
}

// Options controls where the shared logger writes.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	JSON       bool
	// Echo additionally copies log lines to this writer (e.g. stderr in dev mode).
	Echo io.Writer
}

// Setup points the shared logger at a size-rotated file. The returned closer
// flushes and closes the rotating writer.
func Setup(opts Options) (io.Closer, error) {
	if opts.Path == "" {
		JSONMode = opts.JSON
		return nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, err
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   false,
	}
	var out io.Writer = rotator
	if opts.Echo != nil {
		out = io.MultiWriter(rotator, opts.Echo)
	}
	Logger.SetOutput(out)
	Logger.SetFlags(log.LstdFlags | log.Lmicroseconds)
	JSONMode = opts.JSON
	return rotator, nil
}

// For returns a structured logger for component on the shared logger.
func For(component string) *StructuredLogger {
	return NewStructuredLogger(Logger, component, JSONMode)
}

// DevLog logs only when DEV_MODE=1
func DevLog(format string, args ...interface{}) {
	if DevMode {
		Logger.Printf("[DEV] "+format, args...)
	}
}

// UserLog logs important user-facing information (always visible)
func UserLog(format string, args ...interface{}) {
	Logger.Printf("[USER] "+format, args...)
}

// ErrorLog logs errors (always visible)
func ErrorLog(format string, args ...interface{}) {
	Logger.Printf("[ERROR] "+format, args...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
