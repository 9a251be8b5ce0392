package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "communityfeed_http_request_duration_seconds",
			Help:    "Histogram of API request latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route", "status_code"},
	)

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communityfeed_mutations_total",
		Help: "The total number of record mutations by table and outcome",
	}, []string{"table", "status"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communityfeed_events_published_total",
		Help: "The total number of change events handed to Kafka",
	}, []string{"table", "status"})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communityfeed_logins_total",
		Help: "The total number of login attempts by outcome",
	}, []string{"status"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records latency per matched route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		requestLatency.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
