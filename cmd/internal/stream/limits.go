package stream

import "time"

const (
	// DefaultPingInterval is how often a keep-alive ping is sent while Open.
	DefaultPingInterval = 30 * time.Second

	// DefaultReconnectDelay is the fixed wait between an unsolicited close and the next dial.
	DefaultReconnectDelay = 3 * time.Second

	// DefaultMaxAttempts bounds consecutive failed connections before the client gives up.
	DefaultMaxAttempts = 5

	// DefaultReadLimit is the max bytes per inbound message (frames carry base64 JPEGs).
	DefaultReadLimit int64 = 1 << 20 // 1 MiB

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)
