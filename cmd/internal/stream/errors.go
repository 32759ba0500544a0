package stream

import "errors"

var (
	// ErrTransportUnavailable wraps a failed dial. The reconnect policy has already been
	// applied when Connect returns it.
	ErrTransportUnavailable = errors.New("stream transport unavailable")

	// ErrUnknownEventKind is returned by On for kinds outside the event vocabulary.
	ErrUnknownEventKind = errors.New("unknown stream event kind")

	// ErrConfig is returned for invalid Options.
	ErrConfig = errors.New("stream: invalid config")
)
