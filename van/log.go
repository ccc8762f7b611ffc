package van

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// NewLogger returns a structured logger for setup/teardown/error
// paths (component K): w is the sink (os.Stderr in production, a
// buffer in tests), level the minimum severity to emit. This is the
// stack the retrieved corpus's own go.mod calls for
// (github.com/charmbracelet/log); dump_stats (stats.go) remains the
// one place that writes application-facing counter output to an
// arbitrary sink instead of the log.
func NewLogger(w io.Writer, level charmlog.Level) *charmlog.Logger {
	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}

// DefaultLogger logs to os.Stderr at info level.
func DefaultLogger() *charmlog.Logger {
	return NewLogger(os.Stderr, charmlog.InfoLevel)
}
