package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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
)

// Domain metrics: authenticator outcomes, workflow transitions, reminders.
var (
	codeValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magic_code_validations_total",
			Help: "Magic-code validation attempts by result.",
		},
		[]string{"result"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistance_transitions_total",
			Help: "Applied assistance workflow transitions by event.",
		},
		[]string{"event"},
	)

	remindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_reminders_total",
			Help: "Follow-up reminders emitted by type.",
		},
		[]string{"type"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		codeValidationsTotal, transitionsTotal, remindersTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CodeValidation counts one authenticator outcome ("ok", "invalid", "expired", ...).
func CodeValidation(result string) {
	codeValidationsTotal.WithLabelValues(result).Inc()
}

// Transition counts one applied workflow transition.
func Transition(event string) {
	transitionsTotal.WithLabelValues(event).Inc()
}

// Reminder counts one emitted follow-up reminder.
func Reminder(typ string) {
	remindersTotal.WithLabelValues(typ).Inc()
}

// CanonicalPath collapses resource identifiers so metric label cardinality
// stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	// /v1/admin/assistances/:id[/action], /v1/admin/quotations/:id/action
	if len(parts) >= 5 && parts[1] == "v1" && parts[2] == "admin" {
		switch parts[3] {
		case "assistances", "quotations", "suppliers":
			if parts[4] != "" {
				parts[4] = ":id"
				return strings.Join(parts, "/")
			}
		}
	}
	return p
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
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

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
