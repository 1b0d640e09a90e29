package middleware

import (
	"net/http"
	"time"

	"github.com/iudanet/text2mesh/internal/server/metrics"
)

// MetricsMiddleware records request count and latency per route pattern.
// Must wrap the ServeMux so that r.Pattern is populated after routing.
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			m.ObserveRequest(r.Pattern, r.Method, wrapped.statusCode, time.Since(start))
		})
	}
}
