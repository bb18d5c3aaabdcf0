package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by the session layer.
const (
	OutcomeSuccess     = "success"
	OutcomeServerError = "server_error"
	OutcomeTimeout     = "timeout"
	OutcomeClosed      = "closed"
	OutcomeCanceled    = "canceled"
	OutcomeSendFailed  = "send_failed"
)

var (
	registerOnce sync.Once

	sessionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zerolink",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Correlated requests by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zerolink",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Time from send to completion of a correlated request.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
	sessionPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zerolink",
			Subsystem: "session",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply across all connections.",
		},
	)
	sessionSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zerolink",
			Subsystem: "session",
			Name:      "fire_and_forget_total",
			Help:      "Frames sent without expecting a reply.",
		},
		[]string{"op"},
	)
	sessionDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zerolink",
			Subsystem: "session",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded by the receive loop.",
		},
		[]string{"reason"},
	)
	sessionHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zerolink",
			Subsystem: "session",
			Name:      "heartbeats_total",
			Help:      "Heartbeat frames by direction and opcode.",
		},
		[]string{"direction", "op"},
	)
	responderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zerolink",
			Subsystem: "responder",
			Name:      "requests_total",
			Help:      "Operations handled by the responder.",
		},
		[]string{"op", "code"},
	)
	responderConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zerolink",
			Subsystem: "responder",
			Name:      "connections",
			Help:      "Open responder connections.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zerolink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zerolink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionRequests, sessionDuration, sessionPending, sessionSends,
			sessionDropped, sessionHeartbeats,
			responderRequests, responderConnections,
			httpRequests, httpDuration,
		)
	})
}

func RecordRequest(op, outcome string, duration time.Duration) {
	RegisterMetrics()
	sessionRequests.WithLabelValues(op, outcome).Inc()
	sessionDuration.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

func AddPending(delta int) {
	RegisterMetrics()
	sessionPending.Add(float64(delta))
}

func RecordFireAndForget(op string) {
	RegisterMetrics()
	sessionSends.WithLabelValues(op).Inc()
}

func RecordDroppedFrame(reason string) {
	RegisterMetrics()
	sessionDropped.WithLabelValues(reason).Inc()
}

func RecordHeartbeat(direction, op string) {
	RegisterMetrics()
	sessionHeartbeats.WithLabelValues(direction, op).Inc()
}

func RecordResponderRequest(op, code string) {
	RegisterMetrics()
	responderRequests.WithLabelValues(op, code).Inc()
}

func AddResponderConnections(delta int) {
	RegisterMetrics()
	responderConnections.Add(float64(delta))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
