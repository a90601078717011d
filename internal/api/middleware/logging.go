package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "multimediabot",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request latency by path and status",
	Buckets:   prometheus.DefBuckets,
}, []string{"path", "status"})

// quietPaths are polled often and only logged at debug level
var quietPaths = map[string]bool{
	"/health":           true,
	"/metrics":          true,
	"/telegram/webhook": true,
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging middleware logs HTTP requests and records their latency
func Logging(next http.Handler, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		requestDuration.WithLabelValues(r.URL.Path, strconv.Itoa(wrapped.statusCode)).Observe(elapsed.Seconds())

		entry := logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": elapsed.Milliseconds(),
			"remote_addr": r.RemoteAddr,
		})
		if quietPaths[r.URL.Path] && wrapped.statusCode < 400 {
			entry.Debug("HTTP request")
			return
		}
		entry.Info("HTTP request")
	})
}
