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
			Namespace: "ownetctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the status server.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ownetctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	ownetRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ownetctl",
			Subsystem: "ownet",
			Name:      "requests_total",
			Help:      "ownet protocol operations by outcome.",
		},
		[]string{"op", "mode", "result"},
	)
	ownetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ownetctl",
			Subsystem: "ownet",
			Name:      "request_duration_seconds",
			Help:      "ownet protocol operation duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op", "mode", "result"},
	)
	ownetConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ownetctl",
			Subsystem: "ownet",
			Name:      "connections_total",
			Help:      "TCP connections opened to owserver.",
		},
		[]string{"mode", "result"},
	)
	statusLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ownetctl",
			Subsystem: "status",
			Name:      "level",
			Help:      "Last computed sensor status level; -1 before the first poll.",
		},
	)
	ownetKeepAlives = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ownetctl",
			Subsystem: "ownet",
			Name:      "keepalive_frames_total",
			Help:      "Server keep-alive pulses absorbed while waiting for replies.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, ownetRequests, ownetDuration, ownetConnects, ownetKeepAlives, statusLevel)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordRequest counts one proxy operation; result is "ok" or an error kind.
func RecordRequest(op, mode, result string, duration time.Duration) {
	RegisterMetrics()
	ownetRequests.WithLabelValues(op, mode, result).Inc()
	ownetDuration.WithLabelValues(op, mode, result).Observe(duration.Seconds())
}

func RecordConnect(mode string, success bool) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "error"
	}
	ownetConnects.WithLabelValues(mode, result).Inc()
}

func RecordKeepAlive() {
	RegisterMetrics()
	ownetKeepAlives.Inc()
}

func SetStatusLevel(level int) {
	RegisterMetrics()
	statusLevel.Set(float64(level))
}
