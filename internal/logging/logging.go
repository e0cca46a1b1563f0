// Package logging configures the global zerolog logger for the CLI.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options controls log output
type Options struct {
	// Format is "console" (human readable) or "json"
	Format string

	Debug bool
	Quiet bool
}

// Level returns the level implied by opts. Quiet wins over Debug.
func (o Options) Level() zerolog.Level {
	switch {
	case o.Quiet:
		return zerolog.Disabled
	case o.Debug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger builds a logger writing to w
func NewLogger(w io.Writer, opts Options) (zerolog.Logger, error) {
	var out io.Writer
	switch strings.ToLower(opts.Format) {
	case FormatConsole, "":
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
		}
	case FormatJSON:
		out = w
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format: %s (valid: console, json)", opts.Format)
	}

	return zerolog.New(out).Level(opts.Level()).With().Timestamp().Logger(), nil
}

// Setup replaces the global logger
func Setup(w io.Writer, opts Options) error {
	logger, err := NewLogger(w, opts)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(opts.Level())
	log.Logger = logger
	return nil
}
