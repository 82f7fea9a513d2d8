// Package requesttime carries a request-scoped "now" in the context.
// Every component of the engine reads time through Now so that a single
// check observes one consistent timestamp, client-supplied timestamps are
// never trusted, and tests can steer the clock without sleeping.
package requesttime

import (
	"context"
	"net/http"
	"time"
)

type contextKeyNow struct{}

// Middleware stamps the current time into the request context so all
// downstream checks within one request share the same instant.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), contextKeyNow{}, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Now returns the context-scoped time, falling back to time.Now for
// non-HTTP callers such as workers and tests that did not set one.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKeyNow{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific instant into the context. Used by tests to
// step the clock and by batch jobs that want one timestamp per run.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKeyNow{}, t)
}
