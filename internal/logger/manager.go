package logger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LoggerManager owns the named loggers of the process.
type LoggerManager struct {
	mu       sync.RWMutex
	loggers  map[string]*zap.Logger
	closers  []io.Closer
	fallback *zap.Logger
}

// NewLoggerManager loads every log.config.json in configPaths. Missing files are skipped; the
// default configuration serves every logger no file names.
func NewLoggerManager(configPaths []string) (*LoggerManager, error) {
	lm := &LoggerManager{loggers: make(map[string]*zap.Logger)}

	fallback, closers, err := buildLogger(DefaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build default logger: %w", err)
	}
	lm.fallback = fallback
	lm.closers = append(lm.closers, closers...)

	for _, path := range configPaths {
		if err := lm.load(path); err != nil {
			_ = lm.Close()
			return nil, err
		}
	}
	return lm, nil
}

func (lm *LoggerManager) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Log configuration file '%s' not found. Skipping.\n", path)
			return nil
		}
		return fmt.Errorf("failed to read log configuration file '%s': %w", path, err)
	}

	var wrapper struct {
		Loggers map[string]Config `json:"loggers"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("failed to parse log configuration file '%s': %w", path, err)
	}

	for name, cfg := range wrapper.Loggers {
		l, closers, err := buildLogger(cfg)
		lm.closers = append(lm.closers, closers...)
		if err != nil {
			return fmt.Errorf("failed to build logger '%s': %w", name, err)
		}
		if err := lm.AddLogger(name, l.Named(name)); err != nil {
			return fmt.Errorf("failed to add logger '%s' from config '%s': %w", name, path, err)
		}
	}
	return nil
}

// AddLogger registers logger under name. Names must be unique.
func (lm *LoggerManager) AddLogger(name string, logger *zap.Logger) error {
	if logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, exists := lm.loggers[name]; exists {
		return fmt.Errorf("logger '%s' already exists", name)
	}
	lm.loggers[name] = logger
	return nil
}

// GetLogger returns the logger configured for name. Dotted names fall back to their closest
// configured parent ("suivi.auth" uses "suivi" named "auth"), then to the default configuration.
func (lm *LoggerManager) GetLogger(name string) *zap.Logger {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if l, ok := lm.loggers[name]; ok {
		return l
	}
	for parent := name; strings.Contains(parent, "."); {
		i := strings.LastIndex(parent, ".")
		parent = parent[:i]
		if l, ok := lm.loggers[parent]; ok {
			return l.Named(strings.TrimPrefix(name, parent+"."))
		}
	}
	return lm.fallback.Named(name)
}

// Sync flushes all loggers.
func (lm *LoggerManager) Sync() error {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var errs []error
	for name, logger := range lm.loggers {
		if err := logger.Sync(); err != nil && !isInvalidSync(err) {
			errs = append(errs, fmt.Errorf("failed to sync logger '%s': %w", name, err))
		}
	}
	if err := lm.fallback.Sync(); err != nil && !isInvalidSync(err) {
		errs = append(errs, fmt.Errorf("failed to sync default logger: %w", err))
	}
	return errors.Join(errs...)
}

// Close flushes and stops the async writers and closes log files.
func (lm *LoggerManager) Close() error {
	_ = lm.Sync()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for _, c := range lm.closers {
		if err := c.Close(); err != nil && !isInvalidSync(err) {
			errs = append(errs, err)
		}
	}
	lm.closers = nil
	return errors.Join(errs...)
}

// isInvalidSync reports the error returned when syncing a terminal, which is harmless.
func isInvalidSync(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}
