package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustledger_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustledger_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerEntriesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trustledger_ledger_entries_total",
		Help: "Total number of entries in the audit ledger.",
	})

	chainValid = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trustledger_chain_valid",
		Help: "Outcome of the last chain verification: 1=valid, 0=broken.",
	})

	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustledger_permission_checks_total",
		Help: "Total permission checks by outcome.",
	}, []string{"granted"})

	cacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trustledger_permission_cache_size",
		Help: "Current number of cached permission decisions.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, ledgerEntriesTotal, chainValid, checksTotal, cacheSize)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
