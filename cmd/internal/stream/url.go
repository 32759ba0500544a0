package stream

import (
	"fmt"
	"net/url"
	"strings"

	v1 "argus/shared/contracts/stream/v1"
)

// StreamURL derives the websocket URL for sessionID from an http(s) or ws(s) origin.
// Only the scheme and host of base are used: https maps to wss, http to ws.
func StreamURL(base, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("%w: missing session id", ErrConfig)
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrConfig, base)
	}

	var scheme string
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		scheme = "wss"
	case "http", "ws":
		scheme = "ws"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrConfig, u.Scheme)
	}

	out := url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   v1.PathPrefix + sessionID,
	}
	out.RawPath = v1.PathPrefix + url.PathEscape(sessionID)
	return out.String(), nil
}
