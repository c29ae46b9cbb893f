package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	datagramsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "janus",
			Subsystem: "server",
			Name:      "datagrams_received_total",
			Help:      "Datagrams received on the listening socket.",
		},
		[]string{"server"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "janus",
			Subsystem: "server",
			Name:      "dispatch_duration_seconds",
			Help:      "Handler dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "channel", "command", "success"},
	)
	repliesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "janus",
			Subsystem: "server",
			Name:      "replies_sent_total",
			Help:      "Responses written to reply-to sockets.",
		},
		[]string{"server", "success"},
	)
	dispatchRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "janus",
			Subsystem: "server",
			Name:      "dispatch_rejected_total",
			Help:      "Datagrams rejected before a handler ran.",
		},
		[]string{"server", "reason"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "janus",
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Requests awaiting a reply.",
		},
		[]string{"client"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			datagramsReceived,
			dispatchDuration,
			repliesSent,
			dispatchRejected,
			pendingRequests,
		)
	})
}

func RecordDatagramReceived(server string) {
	RegisterMetrics()
	datagramsReceived.WithLabelValues(server).Inc()
}

func RecordDispatch(server, channel, command string, success bool, duration time.Duration) {
	RegisterMetrics()
	dispatchDuration.WithLabelValues(server, channel, command, strconv.FormatBool(success)).
		Observe(duration.Seconds())
}

func RecordReplySent(server string, success bool) {
	RegisterMetrics()
	repliesSent.WithLabelValues(server, strconv.FormatBool(success)).Inc()
}

func RecordDispatchRejected(server, reason string) {
	RegisterMetrics()
	dispatchRejected.WithLabelValues(server, reason).Inc()
}

func SetPendingRequests(client string, n int) {
	RegisterMetrics()
	pendingRequests.WithLabelValues(client).Set(float64(n))
}
