// Package logger configures the zerolog logger used by every service.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration
type Config struct {
	Level       string // trace, debug, info, warn, error
	Format      string // json, console
	Environment string
	ServiceName string
	Version     string
	Output      io.Writer
}

// Logger wraps zerolog so services can take a single injectable dependency.
type Logger struct {
	zerolog.Logger
}

// New builds a logger from the given configuration. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}

	format := strings.ToLower(cfg.Format)
	if format == "" && cfg.Environment == "development" {
		format = "console"
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	if cfg.Environment != "" {
		ctx = ctx.Str("env", cfg.Environment)
	}

	return &Logger{Logger: ctx.Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent returns a child logger tagged with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("component", component).Logger()}
}
