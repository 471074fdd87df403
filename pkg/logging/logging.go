// Package logging configures the global zerolog logger for the command-line tools.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and output. Output goes to stderr as
// human-readable console lines, or as JSON lines when json is set.
func Setup(level string, json bool) error {
	return SetupWriter(os.Stderr, level, json)
}

func SetupWriter(w io.Writer, level string, json bool) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return errors.Wrapf(err, "invalid log level %q", level)
		}
	}
	zerolog.SetGlobalLevel(lvl)
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	return nil
}
