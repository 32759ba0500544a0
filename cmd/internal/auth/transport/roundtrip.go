package transport

import (
	"log/slog"
	"net/http"
	"time"

	"argus/cmd/identity/ids"
	"argus/cmd/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// WithRequestLogging wraps an http.RoundTripper, stamps X-Request-ID and logs each round trip.
// A nil next uses http.DefaultTransport.
func WithRequestLogging(next http.RoundTripper, log *slog.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if log == nil {
		log = slog.Default()
	}
	return &loggingRoundTripper{next: next, log: log}
}

type loggingRoundTripper struct {
	next http.RoundTripper
	log  *slog.Logger
}

func (rt *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := req.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = ids.NewRequestID()
		// RoundTrippers must not mutate the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, reqID)
	}

	resp, err := rt.next.RoundTrip(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.TransportRequestsTotal.WithLabelValues(req.Method, metrics.StatusClass(status)).Inc()
	metrics.TransportRequestDuration.WithLabelValues(req.Method).Observe(elapsed.Seconds())

	if err != nil {
		rt.log.Warn("transport.request",
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", reqID,
			"duration_ms", elapsed.Milliseconds(),
			"result", "net_error",
			"err", err,
		)
		return resp, err
	}

	level, result := requestLogMeta(status)
	rt.log.Log(req.Context(), level, "transport.request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"status_class", metrics.StatusClass(status),
		"request_id", reqID,
		"duration_ms", elapsed.Milliseconds(),
		"result", result,
	)
	return resp, nil
}

// requestLogMeta maps a status code to a log level and a result label.
func requestLogMeta(status int) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "server_error"
	case status >= 400:
		return slog.LevelWarn, "client_error"
	case status >= 300:
		return slog.LevelInfo, "redirect"
	default:
		return slog.LevelInfo, "success"
	}
}
