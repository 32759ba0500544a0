package stream

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is one open duplex connection. Read is called from a single goroutine;
// Write and Close may be called concurrently with it.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	// Close sends a normal closure with reason and releases the connection.
	Close(reason string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with coder/websocket.
type WebsocketDialer struct {
	// Header is sent with the handshake (Origin, Authorization ...).
	Header http.Header
	// HTTPClient overrides the handshake client.
	HTTPClient *http.Client
	// ReadLimit caps inbound message size; zero means DefaultReadLimit.
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsConn{c: conn}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, b, err := w.c.Read(ctx)
	return b, err
}

func (w *wsConn) Write(ctx context.Context, p []byte) error {
	return w.c.Write(ctx, websocket.MessageText, p)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
