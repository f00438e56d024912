package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	handshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcid_handshakes_total",
			Help: "ORCID OAuth handshakes by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	depositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcid_deposits_total",
			Help: "ORCID deposit units by kind and final state.",
		},
		[]string{"kind", "outcome"},
	)

	depositDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orcid_deposit_duration_seconds",
			Help:    "Time spent executing one deposit unit, retries included.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	tokensCleared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orcid_tokens_cleared_total",
			Help: "ORCID access tokens cleared by reason.",
		},
		[]string{"reason"},
	)

	initOnce sync.Once
)

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			handshakesTotal, depositsTotal, depositDuration, tokensCleared)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHandshake(op, outcome string) {
	handshakesTotal.WithLabelValues(op, outcome).Inc()
}

func ObserveDeposit(kind, outcome string, took time.Duration) {
	depositsTotal.WithLabelValues(kind, outcome).Inc()
	depositDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func ObserveTokenCleared(reason string) {
	tokensCleared.WithLabelValues(reason).Inc()
}

// Instrument measures RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
