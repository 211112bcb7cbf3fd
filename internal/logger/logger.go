package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

// Init configures the global logger. Unknown levels fall back to info; any
// format other than "json" gets the console writer.
func Init(level, format string) {
	InitWithWriter(level, format, os.Stdout)
}

func InitWithWriter(level, format string, w io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", "dataset-service").
		Logger().
		Level(lvl)

	log.Logger = Logger
}

// WithRunID adds the run id to the logger context.
func WithRunID(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

// WithRequestID adds request ID to logger context
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}
