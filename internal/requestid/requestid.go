// Package requestid propagates a per-request correlation id via context.
package requestid

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying the request id.
const Header = "X-Request-ID"

type ctxKey struct{}

var valid = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or "" if none was set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// Accept reuses an upstream id when it is well formed and otherwise
// generates a fresh one.
func Accept(ctx context.Context, upstream string) (context.Context, string) {
	if valid.MatchString(upstream) {
		return WithRequestID(ctx, upstream), upstream
	}
	return New(ctx)
}

// Logger returns logger annotated with the request id found in ctx.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := FromContext(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
