package utils

import (
	"context"
	"fmt"
	"log/slog"
)

// BestEffort runs a non-critical side effect. Any error or panic is logged at
// warn level under name and never returned to the caller.
func BestEffort(ctx context.Context, l *slog.Logger, name string, fn func(ctx context.Context) error, attrs ...any) {
	if l == nil {
		l = slog.Default()
	}
	defer func() {
		if p := recover(); p != nil {
			l.WarnContext(ctx, "best-effort action panicked", append([]any{"action", name, "err", fmt.Sprint(p)}, attrs...)...)
		}
	}()
	if err := fn(ctx); err != nil {
		l.WarnContext(ctx, "best-effort action failed", append([]any{"action", name, "err", err}, attrs...)...)
	}
}
