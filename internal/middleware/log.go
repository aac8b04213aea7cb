package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LogMiddleware records method, path, status, response size and duration for
// every request.
func LogMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(lw, r)
			duration := time.Since(start)

			logger.Infow("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lw.statusCode,
				"size", lw.length,
				"duration", duration.String(),
			)
		})
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	length     int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.length += n
	return n, err
}
