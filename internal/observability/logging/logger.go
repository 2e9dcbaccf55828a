// Package logging configures the process-wide zerolog logger and the
// contextual child loggers the bridge components use.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string    // debug, info, warn, error
	Format     string    // json, console
	TimeFormat string    // layout for the time field
	Service    string    // value of the service field, omitted when empty
	Output     io.Writer // defaults to stdout
}

// DefaultConfig returns the logging configuration used in production.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
		Service:    "audio-bridge",
	}
}

// Init installs the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	def := DefaultConfig()
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = def.TimeFormat
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Caller().Logger()
}

// WithSession returns a logger tagged with the session id.
func WithSession(sessionID string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionID).
		Logger()
}

// WithEngine returns a session logger that also names the STT provider.
func WithEngine(sessionID, provider string) zerolog.Logger {
	l := WithSession(sessionID)
	return l.With().Str("sttProvider", provider).Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
