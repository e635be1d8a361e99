// internal/logging/logger.go
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Config holds logging configuration
type Config struct {
	Level           LogLevel `json:"level"`
	Directory       string   `json:"directory"`
	AppLogFile      string   `json:"app_log_file"`
	MutationLogFile string   `json:"mutation_log_file"`
	ErrorLogFile    string   `json:"error_log_file"`
	EnableConsole   bool     `json:"enable_console"`
}

// DefaultConfig returns default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:           LevelInfo,
		Directory:       "logs",
		AppLogFile:      "app.log",
		MutationLogFile: "mutations.log",
		ErrorLogFile:    "errors.log",
		EnableConsole:   true,
	}
}

// Logger represents the global logger instance. The mutation log is the
// audit trail of allocator and zone changes; the error log collects sync
// conflicts, lock timeouts and failures.
type Logger struct {
	config         *Config
	appLogger      *slog.Logger
	mutationLogger *slog.Logger
	errorLogger    *slog.Logger

	// Performance counters
	mutationsLogged  int64
	syncCyclesLogged int64
	errorsLogged     int64

	// File handles for cleanup
	appFile      *os.File
	mutationFile *os.File
	errorFile    *os.File
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Initialize sets up the global logger
func Initialize(config *Config) error {
	var err error
	once.Do(func() {
		globalLogger, err = newLogger(config)
	})
	return err
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if globalLogger == nil {
		// Fallback to default config if not initialized
		_ = Initialize(DefaultConfig())
	}
	return globalLogger
}

// newLogger creates a new logger instance
func newLogger(config *Config) (*Logger, error) {
	// Create logs directory if it doesn't exist
	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger := &Logger{
		config: config,
	}

	// Set up application logger
	if err := logger.setupAppLogger(); err != nil {
		return nil, fmt.Errorf("failed to setup app logger: %w", err)
	}

	// Set up mutation logger
	if err := logger.setupMutationLogger(); err != nil {
		return nil, fmt.Errorf("failed to setup mutation logger: %w", err)
	}

	// Set up error logger
	if err := logger.setupErrorLogger(); err != nil {
		return nil, fmt.Errorf("failed to setup error logger: %w", err)
	}

	return logger, nil
}

// setupAppLogger configures the application logger
func (l *Logger) setupAppLogger() error {
	writers := []io.Writer{}

	// File output
	appPath := filepath.Join(l.config.Directory, l.config.AppLogFile)
	appFile, err := os.OpenFile(appPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open app log file: %w", err)
	}
	l.appFile = appFile
	writers = append(writers, appFile)

	// Console output
	if l.config.EnableConsole {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{
		Level: l.getSlogLevel(),
	}

	handler := slog.NewJSONHandler(multiWriter, opts)
	l.appLogger = slog.New(handler)

	return nil
}

// setupMutationLogger configures the mutation audit logger
func (l *Logger) setupMutationLogger() error {
	mutationPath := filepath.Join(l.config.Directory, l.config.MutationLogFile)
	mutationFile, err := os.OpenFile(mutationPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open mutation log file: %w", err)
	}
	l.mutationFile = mutationFile

	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug, // Mutation logger accepts all levels
	}

	handler := slog.NewJSONHandler(mutationFile, opts)
	l.mutationLogger = slog.New(handler)

	return nil
}

// setupErrorLogger configures the error logger
func (l *Logger) setupErrorLogger() error {
	errorPath := filepath.Join(l.config.Directory, l.config.ErrorLogFile)
	errorFile, err := os.OpenFile(errorPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open error log file: %w", err)
	}
	l.errorFile = errorFile

	opts := &slog.HandlerOptions{
		Level: slog.LevelWarn, // Errors and warnings only
	}

	handler := slog.NewJSONHandler(errorFile, opts)
	l.errorLogger = slog.New(handler)

	return nil
}

// getSlogLevel converts our LogLevel to slog.Level
func (l *Logger) getSlogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Application Logging Methods

// Info logs an informational message
func (l *Logger) Info(component, message string, fields ...interface{}) {
	l.appLogger.Info(message, append([]interface{}{"component", component}, fields...)...)
}

// Warn logs a warning message
func (l *Logger) Warn(component, message string, fields ...interface{}) {
	l.appLogger.Warn(message, append([]interface{}{"component", component}, fields...)...)
}

// Error logs an error message
func (l *Logger) Error(component, message string, err error, fields ...interface{}) {
	allFields := append([]interface{}{"component", component}, fields...)
	if err != nil {
		allFields = append(allFields, "error", err.Error())
	}
	l.appLogger.Error(message, allFields...)
}

// Debug logs a debug message
func (l *Logger) Debug(component, message string, fields ...interface{}) {
	l.appLogger.Debug(message, append([]interface{}{"component", component}, fields...)...)
}

// Mutation Logging Methods

// LogMutation records one allocator or zone mutation in the audit log
func (l *Logger) LogMutation(author, action, object, detail string) {
	l.mutationLogger.Info("mutation",
		"author", author,
		"action", action,
		"object", object,
		"detail", detail,
		"timestamp", time.Now().Unix(),
	)

	l.mutationsLogged++
}

// LogSyncCycle records the outcome of one sync cycle for a zone/output pair
func (l *Logger) LogSyncCycle(zone, output, status string, serial uint32, changes int, elapsed time.Duration) {
	l.mutationLogger.Info("sync_cycle",
		"zone", zone,
		"output", output,
		"status", status,
		"serial", serial,
		"changes", changes,
		"elapsed_ms", elapsed.Milliseconds(),
		"timestamp", time.Now().Unix(),
	)

	l.syncCyclesLogged++
}

// Error Event Logging Methods

// LogSyncConflict records external drift on a backend. Local state is
// authoritative, so the conflict is logged and overwritten, never merged.
func (l *Logger) LogSyncConflict(zone, output string, localSerial, backendSerial uint32) {
	l.errorLogger.Warn("sync_conflict",
		"event_type", "sync_conflict",
		"zone", zone,
		"output", output,
		"local_serial", localSerial,
		"backend_serial", backendSerial,
		"timestamp", time.Now().Unix(),
	)
	l.errorsLogged++
}

// LogSyncFailure records a sync cycle that exhausted its retries
func (l *Logger) LogSyncFailure(zone, output string, attempts int, err error) {
	l.errorLogger.Error("sync_failed",
		"event_type", "sync_failed",
		"zone", zone,
		"output", output,
		"attempts", attempts,
		"error", err.Error(),
		"timestamp", time.Now().Unix(),
	)
	l.errorsLogged++
}

// LogLockTimeout records a lock acquisition that exceeded the configured wait
func (l *Logger) LogLockTimeout(scope, name string, timeout time.Duration) {
	l.errorLogger.Warn("lock_timeout",
		"event_type", "lock_timeout",
		"scope", scope,
		"name", name,
		"timeout_ms", timeout.Milliseconds(),
		"timestamp", time.Now().Unix(),
	)
	l.errorsLogged++
}

// GetStats returns logging statistics
func (l *Logger) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"mutations_logged":   l.mutationsLogged,
		"sync_cycles_logged": l.syncCyclesLogged,
		"errors_logged":      l.errorsLogged,
		"log_level":          string(l.config.Level),
	}
}

// Close closes all log files
func (l *Logger) Close() error {
	var lastErr error

	if l.appFile != nil {
		if err := l.appFile.Close(); err != nil {
			lastErr = err
		}
	}

	if l.mutationFile != nil {
		if err := l.mutationFile.Close(); err != nil {
			lastErr = err
		}
	}

	if l.errorFile != nil {
		if err := l.errorFile.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Global convenience functions

// Info logs an informational message using the global logger
func Info(component, message string, fields ...interface{}) {
	GetLogger().Info(component, message, fields...)
}

// Warn logs a warning message using the global logger
func Warn(component, message string, fields ...interface{}) {
	GetLogger().Warn(component, message, fields...)
}

// Error logs an error message using the global logger
func Error(component, message string, err error, fields ...interface{}) {
	GetLogger().Error(component, message, err, fields...)
}

// Debug logs a debug message using the global logger
func Debug(component, message string, fields ...interface{}) {
	GetLogger().Debug(component, message, fields...)
}

// LogMutation records a mutation using the global logger
func LogMutation(author, action, object, detail string) {
	GetLogger().LogMutation(author, action, object, detail)
}

// LogSyncCycle records a sync cycle using the global logger
func LogSyncCycle(zone, output, status string, serial uint32, changes int, elapsed time.Duration) {
	GetLogger().LogSyncCycle(zone, output, status, serial, changes, elapsed)
}

// LogSyncConflict records backend drift using the global logger
func LogSyncConflict(zone, output string, localSerial, backendSerial uint32) {
	GetLogger().LogSyncConflict(zone, output, localSerial, backendSerial)
}

// LogSyncFailure records an exhausted sync cycle using the global logger
func LogSyncFailure(zone, output string, attempts int, err error) {
	GetLogger().LogSyncFailure(zone, output, attempts, err)
}

// LogLockTimeout records a lock timeout using the global logger
func LogLockTimeout(scope, name string, timeout time.Duration) {
	GetLogger().LogLockTimeout(scope, name, timeout)
}
