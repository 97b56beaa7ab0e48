// Package logging sets up zerolog for the controller.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var root zerolog.Logger

// Config selects level and output.
type Config struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // "stdout" (default), "stderr" or "console"
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	root = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init configures the process-wide logger.
func Init(cfg Config) error {
	var out io.Writer = os.Stdout
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	case "console":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
	}

	root = zerolog.New(out).Level(level).With().Timestamp().Logger()
	log.Logger = root
	return nil
}

// SetOutput redirects the logger, keeping its level. Used by tests.
func SetOutput(w io.Writer) {
	root = root.Output(w)
	log.Logger = root
}

// Logger returns the process-wide logger.
func Logger() zerolog.Logger {
	return root
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}
