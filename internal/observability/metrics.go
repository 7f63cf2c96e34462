package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relaychat",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "Connection outcomes by lifecycle result.",
		},
		[]string{"result"},
	)
	members = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "members",
			Help:      "Currently registered members.",
		},
	)
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Per-recipient message deliveries by kind and outcome.",
		},
		[]string{"kind", "success"},
	)
	framingErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relaychat",
			Subsystem: "relay",
			Name:      "framing_errors_total",
			Help:      "Connections dropped for malformed framing.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, connections, members, deliveries, framingErrors)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordConnection counts one lifecycle outcome: accepted, registered, rejected, timeout, lost.
func RecordConnection(result string) {
	RegisterMetrics()
	connections.WithLabelValues(result).Inc()
}

func SetMembers(n int) {
	RegisterMetrics()
	members.Set(float64(n))
}

func RecordDelivery(kind string, success bool) {
	RegisterMetrics()
	deliveries.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func RecordFramingError() {
	RegisterMetrics()
	framingErrors.Inc()
}
