package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	logger  *slog.Logger
	console slog.Handler
	logFile *os.File
	mu      sync.Mutex
	isSetup bool
)

func init() {
	console = NewConsoleHandler(os.Stderr, slog.LevelInfo)
	logger = slog.New(console)
}

// SetConsole replaces the console destination and its minimum level
func SetConsole(w io.Writer, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()

	console = NewConsoleHandler(w, level)
	if isSetup {
		logger = slog.New(fanoutHandler{console, slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})})
		return
	}
	logger = slog.New(console)
}

// SetupLogger additionally writes every record, debug included, to the given file
func SetupLogger(logFilePath string) error {
	mu.Lock()
	defer mu.Unlock()

	if isSetup {
		return nil
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger = slog.New(fanoutHandler{console, fileHandler})
	logger.Debug("imagesorter debug log started", "at", time.Now().Format(time.RFC3339))

	isSetup = true
	return nil
}

// CloseLogger closes the log file and returns to console-only logging
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logger.Debug("imagesorter debug log closed", "at", time.Now().Format(time.RFC3339))
		logFile.Close()
		logFile = nil
		isSetup = false
		logger = slog.New(console)
	}
}

// Logger returns the current logger
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// DebugLog logs a debug record; it only reaches the console when the
// console level allows it
func DebugLog(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// LogInfo logs an information message
func LogInfo(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// LogWarning logs a warning message
func LogWarning(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// LogError logs an error message
func LogError(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// LogImageProcessed records the terminal state of an image at debug level
func LogImageProcessed(path string, success bool, errMsg string) {
	if success {
		Logger().Debug("PROCESSED", "path", path)
		return
	}
	Logger().Debug("FAILED", "path", path, "error", errMsg)
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithGroup(name)
	}
	return out
}
