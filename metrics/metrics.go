// Package metrics holds the prometheus collectors for the Yar server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnknownMethod is the method label for requests that match no route.
const UnknownMethod = "_unknown"

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yar",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Dispatched requests by method and response status.",
		},
		[]string{"method", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yar",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Time spent in the dispatch chain.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "yar",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open client connections.",
		},
	)
	connectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yar",
			Subsystem: "server",
			Name:      "connection_errors_total",
			Help:      "Connections closed because of bad frames.",
		},
		[]string{"kind"},
	)
	droppedResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "yar",
			Subsystem: "server",
			Name:      "dropped_responses_total",
			Help:      "Responses whose connection closed before they were sent.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requests, requestDuration, connections, connectionErrors, droppedResponses)
	})
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordRequest(method string, failed bool, duration time.Duration) {
	RegisterMetrics()
	status := "ok"
	if failed {
		status = "exception"
	}
	requests.WithLabelValues(method, status).Inc()
	requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func ConnectionOpened() {
	RegisterMetrics()
	connections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	connections.Dec()
}

// RecordConnectionError counts a connection closed for kind, e.g.
// "protocol" or "format".
func RecordConnectionError(kind string) {
	RegisterMetrics()
	connectionErrors.WithLabelValues(kind).Inc()
}

func RecordDroppedResponse() {
	RegisterMetrics()
	droppedResponses.Inc()
}
