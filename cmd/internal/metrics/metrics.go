// Package metrics holds the Prometheus collectors for the session and stream layer.
// All collectors register with the default registry on package init (promauto);
// cmd/argus exposes them on the ops listener and the mock backend on /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "argus"

// ── Transport ────────────────────────────────────────────────────────────────

// TransportRequestsTotal counts completed REST requests.
// Labels:
//   - method: HTTP method
//   - class: "2xx", "4xx", "5xx" or "net_error"
var TransportRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "requests_total",
		Help:      "Total number of REST requests issued by the authenticated transport.",
	},
	[]string{"method", "class"},
)

// TransportRequestDuration observes REST round-trip latency.
var TransportRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "request_duration_seconds",
		Help:      "REST request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method"},
)

// AuthorizationExpiredTotal counts forced-logout side effects (one per expired credential).
var AuthorizationExpiredTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "authorization_expired_total",
		Help:      "Total number of authorization-expired events fired by the transport.",
	},
)

// ── Session ──────────────────────────────────────────────────────────────────

// SessionTransitionsTotal counts session manager state transitions.
// Label:
//   - to: target state name
var SessionTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "transitions_total",
		Help:      "Total number of session manager state transitions.",
	},
	[]string{"to"},
)

// SessionRefreshTotal counts token refresh outcomes ("ok" or "fail").
var SessionRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "refresh_total",
		Help:      "Total number of token refresh attempts by result.",
	},
	[]string{"result"},
)

// ── Stream ───────────────────────────────────────────────────────────────────

// StreamOpen tracks the number of stream connections currently open.
var StreamOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "open_connections",
		Help:      "Number of stream client connections currently open.",
	},
)

// StreamConnectAttemptsTotal counts dial attempts by result ("ok" or "fail").
var StreamConnectAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "connect_attempts_total",
		Help:      "Total number of stream dial attempts by result.",
	},
	[]string{"result"},
)

// StreamReconnectsTotal counts scheduled reconnects.
var StreamReconnectsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnects_scheduled_total",
		Help:      "Total number of reconnect timers scheduled after an unsolicited close.",
	},
)

// StreamFailedTotal counts clients that exhausted their reconnect budget.
var StreamFailedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "failed_total",
		Help:      "Total number of stream clients that reached the terminal failed state.",
	},
)

// StreamMessagesTotal counts inbound messages by wire type.
var StreamMessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "messages_total",
		Help:      "Total number of inbound stream messages by type.",
	},
	[]string{"type"},
)

// StreamDecodeFailuresTotal counts dropped undecodable messages.
var StreamDecodeFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "decode_failures_total",
		Help:      "Total number of inbound stream messages dropped because they failed to decode.",
	},
)

// ── Credential store ─────────────────────────────────────────────────────────

// CredStoreOpsTotal counts credential store operations.
// Labels:
//   - backend: memory, file, redis, postgres
//   - op: get, set, remove
//   - result: ok, not_found, error
var CredStoreOpsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credstore",
		Name:      "ops_total",
		Help:      "Total number of credential store operations.",
	},
	[]string{"backend", "op", "result"},
)

// ── Mock backend ─────────────────────────────────────────────────────────────

// MockStreamsActive tracks websocket streams served by the mock backend.
var MockStreamsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mock",
		Name:      "streams_active",
		Help:      "Number of websocket streams currently served by the mock backend.",
	},
)

// MockHTTPRequestsTotal counts mock backend HTTP requests by route template and status code.
var MockHTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mock",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests handled by the mock backend.",
	},
	[]string{"route", "code"},
)

// StatusClass maps an HTTP status code to its class label ("2xx", "4xx", ...).
// Zero or negative codes map to "net_error".
func StatusClass(code int) string {
	if code <= 0 {
		return "net_error"
	}
	return strconv.Itoa(code/100) + "xx"
}
