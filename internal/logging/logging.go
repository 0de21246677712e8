// Package logging sets up the slog logger shared by the analysis stages.
//
// The CLI calls Init once from its --log-level and --log-format flags,
// before any command runs. Stages then log through New with one of the
// component names below, so a run can be filtered per stage:
//
//	mbarpmf run --log-level debug --log-format json 2>&1 | jq 'select(.component=="mc")'
//
// Progress goes to stderr; result tables go to stdout.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	Experiment = "experiment"
	Umbrella   = "umbrella"
	MBAR       = "mbar"
	PMF        = "pmf"
	MC         = "mc"
)

// Init replaces the slog default. A nil w means os.Stderr; any format
// other than "json" gives the text handler.
func Init(level slog.Level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// New tags the default logger with component=<component>. Call it after
// Init; the logger keeps the handler that was current at the time.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// ParseLevel reads the --log-level flag.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
}

// ParseFormat reads the --log-format flag.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(s); f {
	case "", "text":
		return "text", nil
	case "json":
		return f, nil
	}
	return "", fmt.Errorf("unknown log format: %s (want text or json)", s)
}
