// Package logging builds the process-wide zap logger and threads
// request-scoped fields through context, the same way cmd/webhook wired
// zap through knative's logging package before the rewrite to a plain
// net/http server.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// New builds a zap logger: console-encoded in debug mode, JSON otherwise.
func New(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build()
}

// WithLogger attaches l to ctx.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stashed in ctx, or a no-op logger if none
// was attached.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
