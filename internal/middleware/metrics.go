package middleware

import (
	"net/http"

	"cmsquery/internal/observability"
)

// ActiveRequestsMiddleware tracks in-flight API requests. Per-operation
// durations and outcomes are recorded by the query service itself.
func ActiveRequestsMiddleware(metrics *observability.QueryMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.IncrementActiveRequests(r.Context())
			defer metrics.DecrementActiveRequests(r.Context())
			next.ServeHTTP(w, r)
		})
	}
}
