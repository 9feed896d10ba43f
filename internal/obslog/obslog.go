// Package obslog wires structured logging via github.com/rs/zerolog —
// structured fields, no fmt.Println — scoped to the scheduler's needs:
// every subsystem gets a child logger tagged with its component name so
// per-CPU/per-task fields compose cleanly.
package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// base is the process-wide root logger, writing to stderr. Callers that
// want different verbosity or a buffer call SetLevel/SetWriter before
// constructing a Scheduler; neither the tests nor cmd/bmqctl do.
var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
	With().Timestamp().Logger()

// For returns a component-scoped logger, e.g. obslog.For("dispatch").
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// SetLevel adjusts the process-wide minimum log level.
func SetLevel(level zerolog.Level) {
	base = base.Level(level)
}

// SetWriter redirects the process-wide root logger's output, e.g. to a
// buffer in tests.
func SetWriter(w io.Writer) {
	base = base.Output(w)
}
