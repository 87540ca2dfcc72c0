package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common HTTP metrics.
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics for the secure core.
var (
	cryptoOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crypto_operations_total",
			Help: "Envelope encryption operations by kind and outcome.",
		},
		[]string{"op", "outcome"},
	)

	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_checks_total",
			Help: "Access control decisions.",
		},
		[]string{"decision"},
	)

	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events written, by severity.",
		},
		[]string{"severity"},
	)

	retentionDeletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retention_deletions_total",
		Help: "Resources deleted by the retention sweep.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		cryptoOpsTotal, permissionChecksTotal, auditEventsTotal, retentionDeletionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCryptoOp records one encrypt/decrypt/wrap/unwrap attempt.
func ObserveCryptoOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cryptoOpsTotal.WithLabelValues(op, outcome).Inc()
}

// ObservePermissionCheck records an allow/deny decision.
func ObservePermissionCheck(allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	permissionChecksTotal.WithLabelValues(decision).Inc()
}

// ObserveAuditEvent records a written audit event by severity.
func ObserveAuditEvent(severity string) {
	auditEventsTotal.WithLabelValues(severity).Inc()
}

// ObserveRetentionDeletion counts one sweep deletion.
func ObserveRetentionDeletion() {
	retentionDeletionsTotal.Inc()
}

// CanonicalPath collapses resource identifiers in known routes so metric
// labels stay bounded.
func CanonicalPath(raw string) string {
	if raw == "" {
		return "/"
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "grants", "organizations", "users":
			if len(parts) == 3 {
				return "/v1/" + parts[1] + "/:id"
			}
			if len(parts) == 4 {
				return "/v1/" + parts[1] + "/:id/" + parts[3]
			}
		}
	}
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		return "/" + raw
	}
	return raw
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// statusWriter captures the response code for metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
