// Command stream-smoke is a CI-friendly smoke check for the analytics stream.
//
// Against a running backend (or argus-mock) it validates:
//   - login and session creation over REST
//   - handshake on /api/v1/ws/{session_id}
//   - ping -> pong and request_stats -> stats
//   - periodic frames carrying base64 JPEG
//   - detection events once detection is started
//   - server close when the session is deleted
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"argus/cmd/internal/api"
	"argus/cmd/internal/auth/session"
	"argus/cmd/internal/auth/transport"
	"argus/cmd/internal/credstore"
	"argus/cmd/internal/stream"
	v1 "argus/shared/contracts/stream/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 4 << 20

type options struct {
	BaseURL  string
	Username string
	Password string
	Origin   string
	Timeout  time.Duration
	Log      *slog.Logger
}

type report struct {
	SessionID  string
	ROIID      string
	Detections int
}

func main() {
	var (
		opts    options
		verbose bool
	)
	flag.StringVar(&opts.BaseURL, "api", "http://127.0.0.1:8000/api/v1", "REST API base URL")
	flag.StringVar(&opts.Username, "user", "operator", "login username")
	flag.StringVar(&opts.Password, "password", "operator123", "login password")
	flag.StringVar(&opts.Origin, "origin", "", "Origin header to send (browser-like WS handshake)")
	flag.DurationVar(&opts.Timeout, "timeout", 7*time.Second, "Per-step timeout")
	flag.BoolVar(&verbose, "v", false, "Verbose output")
	flag.Parse()

	opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		opts.Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	rep, err := run(context.Background(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: session=%s roi=%s detections=%d\n", rep.SessionID, rep.ROIID, rep.Detections)
}

func run(ctx context.Context, opts options) (report, error) {
	var rep report
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tr, err := transport.New(opts.BaseURL, transport.WithLogger(opts.Log), transport.WithTimeout(opts.Timeout))
	if err != nil {
		return rep, fmt.Errorf("transport: %w", err)
	}
	mgr, err := session.NewManager(tr, credstore.NewMemoryStore(), session.WithLogger(opts.Log))
	if err != nil {
		return rep, fmt.Errorf("session manager: %w", err)
	}
	defer mgr.Close()

	if _, err := mgr.Login(ctx, opts.Username, opts.Password); err != nil {
		return rep, fmt.Errorf("login as %q: %w", opts.Username, err)
	}
	defer mgr.Logout(ctx)
	rest := api.New(tr)

	sess, err := createSession(ctx, rest, opts.Timeout)
	if err != nil {
		return rep, err
	}
	rep.SessionID = sess.SessionID

	wsURL, err := stream.StreamURL(opts.BaseURL, sess.SessionID)
	if err != nil {
		return rep, fmt.Errorf("stream url: %w", err)
	}
	opts.Log.Debug("smoke.session", "session_id", sess.SessionID, "url", wsURL)

	c, err := connect(ctx, wsURL, opts.Origin, opts.Timeout)
	if err != nil {
		return rep, err
	}
	defer c.close()

	if err := c.write(ctx, v1.Control(v1.TypePing), opts.Timeout); err != nil {
		return rep, err
	}
	if _, err := c.readUntilType(ctx, v1.TypePong, opts.Timeout); err != nil {
		return rep, err
	}

	if err := c.write(ctx, v1.Control(v1.TypeRequestStats), opts.Timeout); err != nil {
		return rep, err
	}
	statsMsg, err := c.readUntilType(ctx, v1.TypeStats, opts.Timeout)
	if err != nil {
		return rep, err
	}
	var st v1.Statistics
	if err := json.Unmarshal(statsMsg.Data, &st); err != nil {
		return rep, fmt.Errorf("stats payload: %w", err)
	}
	rep.Detections = st.TotalDetections

	frameMsg, err := c.readUntilType(ctx, v1.TypeFrame, opts.Timeout)
	if err != nil {
		return rep, err
	}
	if err := checkJPEGFrame(frameMsg); err != nil {
		return rep, err
	}

	if _, err := rest.StartDetection(ctx, sess.SessionID); err != nil {
		return rep, fmt.Errorf("start detection: %w", err)
	}
	evMsg, err := c.readUntilType(ctx, v1.TypeEvent, 3*opts.Timeout)
	if err != nil {
		return rep, err
	}
	var ev v1.DetectionEvent
	if err := json.Unmarshal(evMsg.Data, &ev); err != nil || ev.ROIID == "" {
		return rep, fmt.Errorf("event payload: %v (%s)", err, evMsg.Data)
	}
	rep.ROIID = ev.ROIID

	if err := rest.DeleteSession(ctx, sess.SessionID); err != nil {
		return rep, fmt.Errorf("delete session: %w", err)
	}
	code, err := c.waitClosed(ctx, opts.Timeout)
	if err != nil {
		return rep, err
	}
	if code != websocket.StatusGoingAway {
		return rep, fmt.Errorf("close code after delete: got=%v want=%v", code, websocket.StatusGoingAway)
	}
	return rep, nil
}

func createSession(ctx context.Context, rest *api.Client, stepTimeout time.Duration) (api.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()

	s, err := rest.CreateSession(ctx, api.SessionCreate{})
	if err != nil {
		return s, fmt.Errorf("create session: %w", err)
	}
	s, err = rest.AddROI(ctx, s.SessionID, api.ROIRegion{
		ID:          "smoke-roi",
		Description: "stream smoke",
		Type:        "rectangle",
		Points:      [][]int{{10, 10}, {150, 10}, {150, 110}, {10, 110}},
		Enabled:     true,
	})
	if err != nil {
		return s, fmt.Errorf("add roi: %w", err)
	}
	return s, nil
}

// wsPeer reads raw protocol messages on its own goroutine, keeping the newest when full.
type wsPeer struct {
	conn  *websocket.Conn
	inbox chan v1.Message
	errCh chan error
}

func connect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) (*wsPeer, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(maxReadBytes)

	p := &wsPeer{
		conn:  conn,
		inbox: make(chan v1.Message, 256),
		errCh: make(chan error, 1),
	}
	go p.readLoop()
	return p, nil
}

func (p *wsPeer) readLoop() {
	defer close(p.inbox)

	for {
		_, data, err := p.conn.Read(context.Background())
		if err != nil {
			p.errCh <- err
			return
		}
		m, err := v1.Decode(data)
		if err != nil {
			p.errCh <- fmt.Errorf("bad message: %w", err)
			return
		}
		select {
		case p.inbox <- m:
		default:
			select {
			case <-p.inbox:
			default:
			}
			select {
			case p.inbox <- m:
			default:
			}
		}
	}
}

// readUntilType skips other message types; the stream interleaves frames, fps and stats.
func (p *wsPeer) readUntilType(parent context.Context, wantType string, stepTimeout time.Duration) (v1.Message, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return v1.Message{}, fmt.Errorf("timeout waiting for %q: %w", wantType, ctx.Err())
		case err := <-p.errCh:
			return v1.Message{}, fmt.Errorf("connection error while waiting for %q: %w", wantType, err)
		case m, ok := <-p.inbox:
			if !ok {
				return v1.Message{}, fmt.Errorf("connection closed while waiting for %q", wantType)
			}
			if m.Type == wantType {
				return m, nil
			}
		}
	}
}

func (p *wsPeer) waitClosed(parent context.Context, stepTimeout time.Duration) (websocket.StatusCode, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("server did not close the stream: %w", ctx.Err())
		case <-p.inbox:
		case err := <-p.errCh:
			var ce websocket.CloseError
			if !errors.As(err, &ce) {
				return 0, fmt.Errorf("expected close frame, got: %w", err)
			}
			return ce.Code, nil
		}
	}
}

func (p *wsPeer) write(parent context.Context, m v1.Message, stepTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

func (p *wsPeer) close() {
	_ = p.conn.Close(websocket.StatusNormalClosure, "bye")
}

func checkJPEGFrame(m v1.Message) error {
	f, err := v1.FrameOf(m)
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return fmt.Errorf("frame base64: %w", err)
	}
	if !bytes.HasPrefix(raw, []byte{0xFF, 0xD8}) {
		return fmt.Errorf("frame is not a JPEG (%d bytes)", len(raw))
	}
	return nil
}
