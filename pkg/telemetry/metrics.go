// Package telemetry holds the engine's prometheus collectors. Metrics are
// registered once at package init and exposed on /metrics by the HTTP
// layer.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks admitted, not-yet-removed connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_active_connections",
		Help: "Number of live authenticated connections.",
	})

	// Supersessions counts connections closed because the same identity
	// authenticated again.
	Supersessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_connection_supersessions_total",
		Help: "Connections force-closed by a newer connection for the same identity.",
	})

	// MessagesPersisted counts successful message appends.
	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_persisted_total",
		Help: "Messages durably appended to the store.",
	})

	// FanoutDeliveries counts envelopes handed to a member connection's
	// outbound queue.
	FanoutDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_fanout_deliveries_total",
		Help: "Envelopes enqueued for delivery during fan-out.",
	})

	// FanoutDrops counts deliveries dropped because a connection's
	// outbound queue was full.
	FanoutDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_fanout_drops_total",
		Help: "Envelopes dropped because the recipient outbound queue was full.",
	})

	// TypingSweeps counts background typing-expiry passes.
	TypingSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_typing_sweeps_total",
		Help: "Typing-indicator TTL sweep passes.",
	})

	// EnvelopeErrors counts error envelopes sent back to clients,
	// labelled by error class.
	EnvelopeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_envelope_errors_total",
		Help: "Error envelopes returned to clients.",
	}, []string{"class"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_http_requests_total",
		Help: "HTTP requests by method and status.",
	}, []string{"method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency for the REST surface.
// Not applied to the websocket endpoint: the wrapper does not forward
// http.Hijacker.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
