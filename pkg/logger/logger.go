package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultFile is used when Output is "file" and no File is given.
const DefaultFile = "leadflow.log"

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output string // stdout, stderr, file
	File   string // file path if Output is "file"
}

// Setup initializes the global logger. An unknown or empty level means info.
func Setup(cfg Config) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	writer, err := output(cfg)
	if err != nil {
		return err
	}

	if cfg.Format == "text" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Caller().Logger()
	return nil
}

func output(cfg Config) (io.Writer, error) {
	switch cfg.Output {
	case "file":
		name := cfg.File
		if name == "" {
			name = DefaultFile
		}
		return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	case "stderr":
		return os.Stderr, nil
	default:
		return os.Stdout, nil
	}
}

// Get returns the global logger
func Get() *zerolog.Logger {
	return &log.Logger
}

// Event starts an event at the given level on the global logger.
func Event(level zerolog.Level) *zerolog.Event {
	return log.WithLevel(level)
}

// InfoEvent returns an info event for chaining
func InfoEvent() *zerolog.Event {
	return log.Info()
}

// DebugEvent returns a debug event for chaining
func DebugEvent() *zerolog.Event {
	return log.Debug()
}

// ErrorEvent returns an error event for chaining
func ErrorEvent() *zerolog.Event {
	return log.Error()
}

// WarnEvent returns a warning event for chaining
func WarnEvent() *zerolog.Event {
	return log.Warn()
}

// Component returns a logger tagged with a pipeline component name, e.g.
// "sweeper" or "queue".
func Component(name string) *zerolog.Logger {
	logger := log.With().Str("component", name).Logger()
	return &logger
}
