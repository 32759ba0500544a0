package transport

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthorizationExpired is matched (errors.Is) by any RequestFailed with status 401.
	ErrAuthorizationExpired = errors.New("authorization expired")

	// ErrTransportUnavailable wraps network-level failures (dial, TLS, reset, timeout).
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrConfig is returned for an invalid base URL or options.
	ErrConfig = errors.New("transport: invalid config")
)

// RequestFailed is returned for every non-2xx response.
type RequestFailed struct {
	Status        int
	ServerMessage string
}

func (e *RequestFailed) Error() string {
	msg := e.ServerMessage
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("request failed: status=%d: %s", e.Status, msg)
}

func (e *RequestFailed) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrAuthorizationExpired
	}
	return nil
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var rf *RequestFailed
	if errors.As(err, &rf) {
		return rf.Status
	}
	return 0
}
