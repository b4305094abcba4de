// Package metrics exposes Prometheus collectors for the service registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "service_registry",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_registry",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "service_registry",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	tokensCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "service_registry",
			Subsystem: "tokens",
			Name:      "created_total",
			Help:      "Total number of service tokens created.",
		},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_registry",
			Subsystem: "tokens",
			Name:      "state_transitions_total",
			Help:      "Total number of successful state transitions.",
		},
		[]string{"from", "to"},
	)

	evidenceMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "service_registry",
			Subsystem: "tokens",
			Name:      "evidence_minted_total",
			Help:      "Total number of evidence tokens minted on payment.",
		},
	)

	rejectedOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_registry",
			Subsystem: "tokens",
			Name:      "rejected_operations_total",
			Help:      "Registry operations rejected, by error kind.",
		},
		[]string{"kind"},
	)

	tokensByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "service_registry",
			Subsystem: "tokens",
			Name:      "by_state",
			Help:      "Current token population per lifecycle state.",
		},
		[]string{"state"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		tokensCreated,
		stateTransitions,
		evidenceMinted,
		rejectedOperations,
		tokensByState,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTokenCreated counts a successful CreateService.
func RecordTokenCreated() {
	tokensCreated.Inc()
}

// RecordStateTransition counts a successful transition between named states.
func RecordStateTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordEvidenceMinted counts an evidence token minted on payment.
func RecordEvidenceMinted() {
	evidenceMinted.Inc()
}

// RecordRejected counts a rejected registry operation by error kind.
func RecordRejected(kind string) {
	rejectedOperations.WithLabelValues(kind).Inc()
}

// SetTokensByState publishes the current population of a lifecycle state.
func SetTokensByState(state string, count int) {
	tokensByState.WithLabelValues(state).Set(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "services":
		if len(parts) == 1 {
			return "/services"
		}
		if len(parts) == 2 {
			return "/services/:id"
		}
		return "/services/:id/" + parts[2]
	case "wallets":
		if len(parts) <= 2 {
			return "/wallets/:owner"
		}
		return "/wallets/:owner/" + parts[2]
	case "uris":
		return "/uris/:state"
	default:
		return "/" + parts[0]
	}
}
