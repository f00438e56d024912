package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

type Logger = zerolog.Logger

type Fields map[string]interface{}

// New returns the process logger. Local runs get a human readable console writer.
func New(env string) Logger {
	var out io.Writer = os.Stdout
	if env == "local" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// Component tags every line with the emitting component.
func Component(logger Logger, name string) Logger {
	return logger.With().Str("component", name).Logger()
}

func With(logger Logger, fields Fields) Logger {
	ctx := logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}

// Nop discards everything; used by tests and optional collaborators.
func Nop() Logger { return zerolog.Nop() }
