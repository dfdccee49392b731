package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics. This maps paths like
// /charts/country/SE to /charts/country/{region}.
func normalizePath(path string) string {
	staticRoutes := map[string]bool{
		"/":                     true,
		"/charts/global":        true,
		"/charts/stats":         true,
		"/admin/charts/refresh": true,
		"/admin/charts/clear":   true,
		"/admin/charts/inspect": true,
		"/health":               true,
		"/ready":                true,
		"/metrics":              true,
	}

	if staticRoutes[path] {
		return path
	}

	if strings.HasPrefix(path, "/charts/country/") {
		parts := strings.Split(path, "/")
		// /charts/country/{region}
		if len(parts) == 4 && parts[3] != "" {
			return "/charts/country/{region}"
		}
	}

	if strings.HasPrefix(path, "/charts/") {
		parts := strings.Split(path, "/")
		if len(parts) == 4 && parts[2] != "" {
			// /charts/{region}/trending, /charts/{region}/movers
			if parts[3] == "trending" || parts[3] == "movers" {
				return "/charts/{region}/" + parts[3]
			}
		}
	}

	// Fallback: return as-is for unknown patterns so new routes are still
	// visible in metrics.
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer so error codes set by handlers reach
// the logging middleware's writer underneath.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// Health check endpoints (/health, /ready) are excluded to avoid noise.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				mrw.size,
			)
		})
	}
}
