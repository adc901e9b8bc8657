// Package logging wires the core's operator-facing log output through
// hashicorp/logutils, giving every subsystem a leveled *log.Logger instead
// of bare fmt/log calls.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/hashicorp/logutils"
)

// Levels are ordered least to most severe, matching logutils.LevelFilter's
// expectations.
var Levels = []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"}

// Config controls how New builds a logger.
type Config struct {
	// MinLevel is the minimum level that will be written. Empty defaults
	// to "INFO".
	MinLevel string

	// Writer receives filtered output. Defaults to os.Stderr.
	Writer io.Writer

	// Prefix is prepended to every line via the standard log.Logger
	// prefix mechanism (e.g. "maxserver: ").
	Prefix string
}

// New builds a *log.Logger whose output passes through a
// logutils.LevelFilter before reaching Config.Writer.
func New(cfg Config) *log.Logger {
	minLevel := logutils.LogLevel(cfg.MinLevel)
	if minLevel == "" {
		minLevel = "INFO"
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	filter := &logutils.LevelFilter{
		Levels:   Levels,
		MinLevel: minLevel,
		Writer:   w,
	}

	return log.New(filter, cfg.Prefix, log.LstdFlags)
}

// Errorf logs a "subsystem:operation" prefixed error line at ERROR level.
// reason is the human-readable cause. A nil logger is a valid "logging
// disabled" state, same as Registry's nil-logger handling, and is a no-op.
func Errorf(logger *log.Logger, subsystem, operation string, reason error) {
	if logger == nil {
		return
	}
	logger.Printf("[ERROR] %s:%s: %v", subsystem, operation, reason)
}

// Infof logs an operator-facing informational line at INFO level. A nil
// logger is a no-op, same as Errorf.
func Infof(logger *log.Logger, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	logger.Printf("[INFO] "+format, args...)
}
