package middleware

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

// errorCodeCarrier is implemented by response writers that can record a
// machine-readable error code for the access log.
type errorCodeCarrier interface {
	SetErrorCode(code string)
}

// responseUnwrapper is implemented by wrapping response writers so the
// error code can be delivered through nested middleware layers.
type responseUnwrapper interface {
	Unwrap() http.ResponseWriter
}

// SetResponseErrorCode records an error code on the response writer so the
// logging middleware can include it in the access log entry. Handlers call
// this (via api.WriteError) when returning 4xx/5xx responses. Writers that
// do not carry an error code ignore the call.
func SetResponseErrorCode(w http.ResponseWriter, code string) {
	for {
		if carrier, ok := w.(errorCodeCarrier); ok {
			carrier.SetErrorCode(code)
			return
		}
		unwrapper, ok := w.(responseUnwrapper)
		if !ok {
			return
		}
		w = unwrapper.Unwrap()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code, response
// size, and an optional error code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
	errorCode   string
}

// WriteHeader captures the status code before writing it.
// Only the first call sets the status code; subsequent calls are ignored
// to match http.ResponseWriter behavior where only the first status is sent.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// SetErrorCode records the error code for the access log.
func (rw *responseWriter) SetErrorCode(code string) {
	rw.errorCode = code
}

// newResponseWriter creates a new responseWriter with default 200 status.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// NewLogger creates an slog.Logger based on the environment.
// In production (env == "production"), it returns a JSON handler.
// Otherwise, it returns a text handler for development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Logging is a middleware that logs HTTP requests with structured fields.
// It captures: method, path, status, latency (ms), request ID, response
// size, and error_code (for error responses).
//
// Note: If a handler panics, the log entry will not be written. To ensure logging
// even on panics, place a recovery middleware outside of the logging middleware.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			latency := time.Since(start).Milliseconds()

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", latency),
				slog.Int("size", rw.size),
			}

			if requestID := GetRequestID(r.Context()); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}

			if rw.statusCode >= 400 && rw.errorCode != "" {
				attrs = append(attrs, slog.String("error_code", rw.errorCode))
			}

			if rw.statusCode >= 500 {
				logger.LogAttrs(r.Context(), slog.LevelError, "request completed", attrs...)
			} else if rw.statusCode >= 400 {
				logger.LogAttrs(r.Context(), slog.LevelWarn, "request completed", attrs...)
			} else {
				logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
			}
		})
	}
}
