// Package logging holds the process-wide zerolog logger used by backends,
// the pipeline engine and the CLI. The library is silent until Set is called.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	FieldComponent = "component"
)

// Config selects level, format and destination.
type Config struct {
	Level  string
	Format string
	Output io.Writer
	// NoColor disables ANSI colors in console output.
	NoColor bool
}

var active atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	active.Store(&nop)
}

// New builds a logger from cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var zl zerolog.Logger
	if strings.ToLower(cfg.Format) == FormatJSON {
		zl = zerolog.New(out)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: "15:04:05.000"})
	}
	return zl.Level(level).With().Timestamp().Logger()
}

// Set installs l as the process-wide logger.
func Set(l zerolog.Logger) {
	active.Store(&l)
}

// L returns the process-wide logger.
func L() *zerolog.Logger {
	return active.Load()
}

// Component returns the process-wide logger tagged with a component name.
func Component(name string) *zerolog.Logger {
	l := L().With().Str(FieldComponent, name).Logger()
	return &l
}
