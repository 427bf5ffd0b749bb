// Package logger configures logrus and carries a request-scoped entry through
// context.Context.
package logger

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// Setup configures the standard logrus logger.
func Setup(out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logrus.SetLevel(lvl)
	if out != nil {
		logrus.SetOutput(out)
	}

	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// WithLogger returns a copy of ctx carrying entry.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// GetLogger returns the entry stored in ctx, or one over the standard logger.
func GetLogger(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok && entry != nil {
			return entry
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
