// Package logging provides the orchestrator's structured logging: one
// zerolog logger per component, plus functions that redact sensitive fields
// and values (sanitizer.go). The loggers do not redact on their own: their
// hook is a no-op, so only values passed through the sanitizers are masked.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

func initBase() {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	switch os.Getenv("DEBUG") {
	case "1", "true":
		level = zerolog.DebugLevel
	}
	if os.Getenv("VERBOSE") != "" {
		level = zerolog.DebugLevel
	}
	base = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level).Hook(redactHook{})
}

// WithComponent returns a logger tagged with "component" for a single
// orchestrator subsystem (e.g. "rate-limiter", "secrets", "orchestrator").
func WithComponent(name string) zerolog.Logger {
	once.Do(initBase)
	return base.With().Str("component", name).Logger()
}

// redactHook is a zerolog.Hook that cannot rewrite already-built events (the
// zerolog API does not allow that), so sanitizing is left to SanitizeValue,
// SanitizeMap and SanitizeStringMap in sanitizer.go; this hook exists only to keep one place where
// future structural redaction (e.g. dropping whole events) could be added.
type redactHook struct{}

func (redactHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {}
