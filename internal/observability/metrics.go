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
			Namespace: "evolits",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests on the admin surface.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evolits",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "sockets",
			Name:      "connections_accepted_total",
			Help:      "Websocket sessions accepted.",
		},
	)
	connectionsReplaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "sockets",
			Name:      "connections_replaced_total",
			Help:      "Sessions superseded by a re-used peer address.",
		},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "sockets",
			Name:      "disconnects_total",
			Help:      "Sessions torn down.",
		},
		[]string{"server_initiated"},
	)
	bytesIn = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "sockets",
			Name:      "bytes_in_total",
			Help:      "Payload bytes received across all sessions.",
		},
	)
	bytesOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "sockets",
			Name:      "bytes_out_total",
			Help:      "Payload bytes written across all sessions.",
		},
	)
	sendDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "sockets",
			Name:      "send_drops_total",
			Help:      "Fire-and-forget sends dropped on a saturated queue.",
		},
	)
	framesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "frames",
			Name:      "decoded_total",
			Help:      "Frames decoded from inbound chunks.",
		},
	)
	frameDecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "evolits",
			Subsystem: "frames",
			Name:      "decode_errors_total",
			Help:      "Inbound chunks that failed frame decoding.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			connectionsAccepted, connectionsReplaced, disconnects,
			bytesIn, bytesOut, sendDrops,
			framesDecoded, frameDecodeErrors,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectionAccepted() {
	RegisterMetrics()
	connectionsAccepted.Inc()
}

func RecordConnectionReplaced() {
	RegisterMetrics()
	connectionsReplaced.Inc()
}

func RecordDisconnect(serverInitiated bool) {
	RegisterMetrics()
	disconnects.WithLabelValues(strconv.FormatBool(serverInitiated)).Inc()
}

func RecordBytesIn(n int) {
	RegisterMetrics()
	bytesIn.Add(float64(n))
}

func RecordBytesOut(n int) {
	RegisterMetrics()
	bytesOut.Add(float64(n))
}

func RecordSendDropped() {
	RegisterMetrics()
	sendDrops.Inc()
}

func RecordFramesDecoded(n int) {
	RegisterMetrics()
	framesDecoded.Add(float64(n))
}

func RecordFrameDecodeError() {
	RegisterMetrics()
	frameDecodeErrors.Inc()
}
