package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process root logger from configuration. Child loggers
// for components are derived with logger.With().
func NewLogger(cfg LoggingConfig) (zerolog.Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(parseLogLevel(cfg.Level))
	if cfg.EnableCaller {
		logger = logger.With().Caller().Logger()
	}
	return logger, nil
}

// WithPass returns a child logger carrying the reconciliation pass id.
func WithPass(logger zerolog.Logger, passID string) zerolog.Logger {
	return logger.With().Str("pass_id", passID).Logger()
}

// WithResource returns a child logger carrying resource identity. Only
// kind and name are logged; attribute values never pass through here.
func WithResource(logger zerolog.Logger, kind, name string) zerolog.Logger {
	return logger.With().Str("kind", kind).Str("name", name).Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
