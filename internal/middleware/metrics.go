package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Metrics records request counts and latencies, labeled by a normalized
// route to keep cardinality bounded.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(seconds float64) {
				route := routeLabel(r.URL.Path)
				requestDuration.WithLabelValues(r.Method, route).Observe(seconds)
				requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			}))
			defer timer.ObserveDuration()
			next.ServeHTTP(sw, r)
		})
	}
}

// routeLabel collapses path parameters so each route yields one label value.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case path == "/":
		return "/"
	case len(parts) == 3 && parts[0] == "evidence" && parts[2] == "versions":
		return "/evidence/{id}/versions"
	case len(parts) == 4 && parts[0] == "requests" && parts[2] == "items":
		return "/requests/{id}/items/{id}"
	case len(parts) == 5 && parts[0] == "requests" && parts[2] == "items" && parts[4] == "fulfill":
		return "/requests/{id}/items/{id}/fulfill"
	case len(parts) == 1:
		return "/" + parts[0]
	case len(parts) == 2:
		return "/" + parts[0] + "/" + parts[1]
	default:
		return "other"
	}
}
