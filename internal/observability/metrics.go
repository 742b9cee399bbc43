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
			Namespace: "webuictl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "webuictl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webuictl",
			Subsystem: "supervisor",
			Name:      "launches_total",
			Help:      "Launch attempts by tool and result.",
		},
		[]string{"tool", "result"},
	)
	stopEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webuictl",
			Subsystem: "supervisor",
			Name:      "stop_escalations_total",
			Help:      "Stops that escalated from SIGTERM to SIGKILL.",
		},
		[]string{"tool"},
	)
	liveProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "webuictl",
			Subsystem: "supervisor",
			Name:      "live_processes",
			Help:      "Managed processes currently in a non-terminal state.",
		},
	)
	provisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "webuictl",
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "Environment provisioning duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"tool", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			launches,
			stopEscalations,
			liveProcesses,
			provisionDuration,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordLaunch(tool, result string) {
	RegisterMetrics()
	launches.WithLabelValues(tool, result).Inc()
}

func RecordStopEscalation(tool string) {
	RegisterMetrics()
	stopEscalations.WithLabelValues(tool).Inc()
}

func SetLiveProcesses(n int) {
	RegisterMetrics()
	liveProcesses.Set(float64(n))
}

func RecordProvision(tool, result string, duration time.Duration) {
	RegisterMetrics()
	provisionDuration.WithLabelValues(tool, result).Observe(duration.Seconds())
}
