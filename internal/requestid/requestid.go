// Package requestid propagates request IDs from a context into outgoing HTTP requests.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying the request ID.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Apply sets the request ID header on req from req's context and returns the ID used.
// An ID already present on the header is kept.
func Apply(req *http.Request) string {
	if id := req.Header.Get(Header); id != "" {
		return id
	}
	id := FromContext(req.Context())
	req.Header.Set(Header, id)
	return id
}
