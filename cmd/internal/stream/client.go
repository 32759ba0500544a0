package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"argus/cmd/internal/clock"
	"argus/cmd/internal/metrics"
	v1 "argus/shared/contracts/stream/v1"
)

// State is the stream client state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Client. Zero durations and counts take the package defaults.
type Options struct {
	// URL is the websocket URL of one analytics session (see StreamURL).
	URL string

	PingInterval   time.Duration
	ReconnectDelay time.Duration
	MaxAttempts    int
	DialTimeout    time.Duration
	WriteTimeout   time.Duration

	// ReadLimit is passed to the default dialer.
	ReadLimit int64

	Dialer    Dialer
	Scheduler clock.Scheduler
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{ReadLimit: o.ReadLimit}
	}
	o.Scheduler = clock.OrSystem(o.Scheduler)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats is a snapshot of client counters.
type Stats struct {
	// Messages counts decoded inbound messages by wire type.
	Messages       map[string]uint64
	DecodeFailures uint64
	Dropped        uint64
	Connects       uint64
	Disconnects    uint64
	Reconnects     uint64
}

// Client is the stream client for one analytics session. It is safe for concurrent use.
type Client struct {
	opts Options
	log  *slog.Logger
	reg  *registry

	mu         sync.Mutex
	state      State
	attempts   int
	gen        uint64
	conn       Conn
	cancelRead context.CancelFunc
	pingTimer  clock.Timer
	retryTimer clock.Timer
	stats      Stats
}

// New builds an Idle client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("%w: missing url", ErrConfig)
	}
	opts = opts.withDefaults()

	return &Client{
		opts:  opts,
		log:   opts.Logger.With("stream_url", opts.URL),
		reg:   newRegistry(),
		state: StateIdle,
		stats: Stats{Messages: make(map[string]uint64)},
	}, nil
}

// On registers fn for kind. Unknown kinds are rejected with ErrUnknownEventKind.
// Handlers for one kind run in registration order.
func (c *Client) On(kind EventKind, fn Handler) (Handle, error) {
	return c.reg.on(kind, fn)
}

// Off removes the registration identified by h. It reports whether h was registered.
func (c *Client) Off(h Handle) bool {
	return c.reg.off(h)
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of consecutive failed connections since the last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Stats returns a copy of the client counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Messages = make(map[string]uint64, len(c.stats.Messages))
	for k, v := range c.stats.Messages {
		s.Messages[k] = v
	}
	return s
}

// Connect dials the stream. It is a no-op unless the client is Idle or Reconnecting.
// A failed dial counts as a close: the reconnect policy is applied before Connect returns
// an error wrapping ErrTransportUnavailable.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.gen++
	g := c.gen
	c.retryTimer = nil
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, err := c.opts.Dialer.Dial(dctx, c.opts.URL)
	cancel()

	c.mu.Lock()
	if g != c.gen || c.state != StateConnecting {
		// Disconnect ran while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close("client disconnect")
		}
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		metrics.StreamConnectAttemptsTotal.WithLabelValues("fail").Inc()
		c.log.Info("stream.connect.fail", "err", err)
		err = fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		c.lost(g, err)
		return err
	}

	readCtx, cancelRead := context.WithCancel(context.Background())
	c.state = StateOpen
	c.attempts = 0
	c.conn = conn
	c.cancelRead = cancelRead
	c.stats.Connects++
	c.schedulePingLocked(g)
	c.reg.enqueue(Event{Kind: EventConnect})
	c.mu.Unlock()

	metrics.StreamConnectAttemptsTotal.WithLabelValues("ok").Inc()
	metrics.StreamOpen.Inc()
	c.log.Info("stream.connect")

	c.reg.drain()
	go c.readLoop(readCtx, g, conn)
	return nil
}

// Disconnect closes the connection and suppresses any reconnect, including one whose timer
// is already pending. It is idempotent. A disconnect event is emitted only if the client was Open;
// it follows any event already handed to a handler and nothing from the old connection follows it.
func (c *Client) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateFailed, StateClosing:
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	c.gen++
	c.state = StateClosing
	c.stopTimersLocked()
	conn, cancelRead := c.conn, c.cancelRead
	c.conn, c.cancelRead = nil, nil
	if wasOpen {
		c.stats.Disconnects++
		c.reg.enqueue(Event{Kind: EventDisconnect})
	}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close("client disconnect"); err != nil {
			c.log.Debug("stream.close.fail", "err", err)
		}
	}
	if cancelRead != nil {
		cancelRead()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	if wasOpen {
		metrics.StreamOpen.Dec()
		c.log.Info("stream.disconnect", "reason", "client")
	}
	c.reg.drain()
}

// Send writes msg when the client is Open and reports whether it was written.
// Messages are dropped, not queued, in any other state.
func (c *Client) Send(ctx context.Context, msg v1.Message) bool {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	c.mu.Unlock()

	b, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("stream.send.encode.fail", "type", msg.Type, "err", err)
		return false
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, b); err != nil {
		c.log.Info("stream.send.fail", "type", msg.Type, "err", err)
		return false
	}
	return true
}

// RequestStats asks the backend for a stats message.
func (c *Client) RequestStats(ctx context.Context) bool {
	return c.Send(ctx, v1.Control(v1.TypeRequestStats))
}

// ---- connection lifecycle ----

func (c *Client) readLoop(ctx context.Context, g uint64, conn Conn) {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			c.lost(g, err)
			return
		}
		c.dispatch(g, raw)
	}
}

// lost handles an unsolicited close (or failed dial) of generation g.
func (c *Client) lost(g uint64, cause error) {
	c.mu.Lock()
	if g != c.gen || (c.state != StateOpen && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	conn, cancelRead := c.conn, c.cancelRead
	c.conn, c.cancelRead = nil, nil
	c.stopTimersLocked()

	c.attempts++
	attempts := c.attempts
	failed := attempts >= c.opts.MaxAttempts
	if failed {
		c.state = StateFailed
	} else {
		c.state = StateReconnecting
		c.stats.Reconnects++
		c.retryTimer = c.opts.Scheduler.AfterFunc(c.opts.ReconnectDelay, func() { c.reconnect(g) })
	}
	c.stats.Disconnects++
	if cause != nil {
		c.reg.enqueue(Event{Kind: EventError, Err: cause})
	}
	c.reg.enqueue(Event{Kind: EventDisconnect})
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close("connection lost")
	}
	if cancelRead != nil {
		cancelRead()
	}
	if wasOpen {
		metrics.StreamOpen.Dec()
	}

	if failed {
		metrics.StreamFailedTotal.Inc()
		c.log.Warn("stream.failed", "attempts", attempts, "err", cause)
	} else {
		metrics.StreamReconnectsTotal.Inc()
		c.log.Info("stream.reconnect.scheduled", "attempt", attempts, "max_attempts", c.opts.MaxAttempts, "in", c.opts.ReconnectDelay.String(), "err", cause)
	}

	c.reg.drain()
}

func (c *Client) reconnect(g uint64) {
	c.mu.Lock()
	stale := g != c.gen || c.state != StateReconnecting
	c.mu.Unlock()
	if stale {
		return
	}
	_ = c.Connect(context.Background())
}

func (c *Client) schedulePingLocked(g uint64) {
	c.pingTimer = c.opts.Scheduler.AfterFunc(c.opts.PingInterval, func() { c.keepAlive(g) })
}

func (c *Client) keepAlive(g uint64) {
	c.mu.Lock()
	if g != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.pingTimer = nil
	c.mu.Unlock()

	if !c.Send(context.Background(), v1.Control(v1.TypePing)) {
		c.log.Debug("stream.ping.fail")
	}

	c.mu.Lock()
	if g == c.gen && c.state == StateOpen && c.pingTimer == nil {
		c.schedulePingLocked(g)
	}
	c.mu.Unlock()
}

func (c *Client) stopTimersLocked() {
	if c.pingTimer != nil {
		c.pingTimer.Stop()
		c.pingTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// ---- inbound ----

func (c *Client) dispatch(g uint64, raw []byte) {
	msg, err := v1.Decode(raw)
	if err != nil {
		c.mu.Lock()
		c.stats.DecodeFailures++
		c.mu.Unlock()
		metrics.StreamDecodeFailuresTotal.Inc()
		c.log.Warn("stream.decode.fail", "bytes", len(raw), "err", err)
		return
	}

	var (
		ev      Event
		deliver bool
		unknown bool
	)
	switch msg.Type {
	case v1.TypeFrame:
		f, err := v1.FrameOf(msg)
		if err != nil {
			c.log.Warn("stream.decode.fail", "type", msg.Type, "err", err)
			return
		}
		ev, deliver = Event{Kind: EventFrame, Frame: f}, true
	case v1.TypeStats:
		ev, deliver = Event{Kind: EventStats, Data: msg.Data}, true
	case v1.TypeEvent:
		ev, deliver = Event{Kind: EventEvent, Data: msg.Data}, true
	case v1.TypeFPS:
		ev, deliver = Event{Kind: EventFPS, Data: msg.Data}, true
	case v1.TypePong:
	default:
		unknown = true
	}

	// The generation check and the enqueue share one critical section, so once
	// Disconnect or a loss has bumped gen nothing from this connection is queued.
	c.mu.Lock()
	if g != c.gen || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.stats.Messages[msg.Type]++
	if unknown {
		c.stats.Dropped++
	}
	if deliver {
		c.reg.enqueue(ev)
	}
	c.mu.Unlock()
	metrics.StreamMessagesTotal.WithLabelValues(metricType(msg.Type)).Inc()

	if unknown {
		c.log.Info("stream.message.unknown", "type", msg.Type)
		return
	}
	c.reg.drain()
}

// metricType bounds the label set to known wire types.
func metricType(t string) string {
	switch t {
	case v1.TypeFrame, v1.TypeStats, v1.TypeEvent, v1.TypeFPS, v1.TypePong:
		return t
	default:
		return "other"
	}
}
