// Package logging builds the zerolog logger used across the demo service
// and its pipeline components: a console writer in development, level
// selected from config.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New builds a root logger for the given environment ("development" gets a
// human-readable console writer; anything else gets structured JSON) and
// level name (parsed via zerolog.ParseLevel, defaulting to info).
func New(env, levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if env == "development" {
		writer := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		}
		return zerolog.New(writer).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
