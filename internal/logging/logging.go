// Package logging builds the service's [log.Logger] and carries it through request contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

type ctxKey struct{}

// New creates a [log.Logger] writing to w at the given level, with timestamps enabled.
//
// format is "text" or "json". The writer defaults to [os.Stderr].
func New(w io.Writer, level, format string) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := log.Options{ReportTimestamp: true, Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		opts.Formatter = log.TextFormatter
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return log.NewWithOptions(w, opts), nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// WithContext returns a copy of ctx carrying l
func WithContext(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback when there is none
func FromContext(ctx context.Context, fallback *log.Logger) *log.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*log.Logger); ok && l != nil {
		return l
	}
	return fallback
}
