// Package observability builds the process logger and holds the
// Prometheus metrics of the orchestrator.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "UPGRADECTL_LOG_LEVEL"

// LogOptions configures [NewLogger].
type LogOptions struct {
	Level  string
	Format string // "console" or "json"
	Out    io.Writer
}

// NewLogger builds the application logger and installs it as the global
// zerolog logger.
func NewLogger(app string, opts LogOptions) (zerolog.Logger, error) {
	raw := opts.Level
	if env := strings.TrimSpace(os.Getenv(EnvLogLevel)); env != "" {
		raw = env
	}
	level := zerolog.InfoLevel
	if raw != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", raw, err)
		}
		level = l
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	switch opts.Format {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger, nil
}
