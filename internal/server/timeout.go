package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware caps how long a session API call may hold its context,
// including a ?wait=true submission waiting on its receipt. The event stream
// is routed around it. Zero leaves calls unbounded.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
