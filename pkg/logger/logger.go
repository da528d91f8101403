package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const redacted = "[REDACTED]"

// secretKeys are attribute keys whose values never reach the log sink.
var secretKeys = map[string]struct{}{
	"apikey":         {},
	"api_key":        {},
	"authorization":  {},
	"dsn":            {},
	"password":       {},
	"proxypassword":  {},
	"token":          {},
	"encryption_key": {},
}

// New returns the service logger: JSON on stdout, debug level in local/dev.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, appEnv)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: redact})
	return slog.New(h).With("service", "channel-platform")
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
