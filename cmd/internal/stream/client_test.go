package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"argus/cmd/internal/clock"
	v1 "argus/shared/contracts/stream/v1"
)

var errConnClosed = errors.New("fake conn closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---- fakes ----

type fakeConn struct {
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu           sync.Mutex
	writes       []string
	closeReasons []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.inbox:
		return b, nil
	case <-f.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, p []byte) error {
	select {
	case <-f.closed:
		return errConnClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(p))
	return nil
}

func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	f.closeReasons = append(f.closeReasons, reason)
	f.mu.Unlock()
	f.once.Do(func() { close(f.closed) })
	return nil
}

// push queues an inbound message.
func (f *fakeConn) push(s string) { f.inbox <- []byte(s) }

// drop simulates the peer going away.
func (f *fakeConn) drop() { f.once.Do(func() { close(f.closed) }) }

func (f *fakeConn) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closeReasons)
}

type dialResult func(ctx context.Context) (Conn, error)

func refuse(context.Context) (Conn, error) { return nil, errors.New("connection refused") }

func accept(c *fakeConn) dialResult {
	return func(context.Context) (Conn, error) { return c, nil }
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	urls     []string
	script   []dialResult
	fallback dialResult
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	next := d.fallback
	if len(d.script) > 0 {
		next = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	if next == nil {
		return refuse(ctx)
	}
	return next(ctx)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recorder collects every event kind in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newRecorder(t *testing.T, c *Client) *recorder {
	t.Helper()
	r := &recorder{signal: make(chan struct{}, 1024)}
	for _, k := range Kinds {
		if _, err := c.On(k, r.record); err != nil {
			t.Fatalf("On(%s): %v", k, err)
		}
	}
	return r
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) waitFor(t *testing.T, kind EventKind, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for r.count(kind) < n {
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d %s events (have %d)", n, kind, r.count(kind))
		}
	}
}

func newTestClient(t *testing.T, d Dialer, clk clock.Scheduler) *Client {
	t.Helper()
	c, err := New(Options{
		URL:       "ws://backend.test/api/v1/ws/s1",
		Dialer:    d,
		Scheduler: clk,
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func openClient(t *testing.T) (*Client, *fakeConn, *fakeDialer, *clock.Manual, *recorder) {
	t.Helper()
	clk := clock.NewManual(time.Time{})
	conn := newFakeConn()
	d := &fakeDialer{script: []dialResult{accept(conn)}}
	c := newTestClient(t, d, clk)
	rec := newRecorder(t, c)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != StateOpen {
		t.Fatalf("state=%v want open", c.State())
	}
	return c, conn, d, clk, rec
}

// ---- tests ----

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}

func TestReconnect_BoundedAttempts(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Time{})
	d := &fakeDialer{fallback: refuse}
	c := newTestClient(t, d, clk)
	rec := newRecorder(t, c)

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Connect err=%v want ErrTransportUnavailable", err)
	}
	if got := rec.count(EventDisconnect); got != 1 {
		t.Fatalf("disconnects after first dial=%d want 1", got)
	}
	if c.State() != StateReconnecting || c.Attempts() != 1 {
		t.Fatalf("state=%v attempts=%d", c.State(), c.Attempts())
	}

	// Less than one delay: nothing happens yet.
	clk.Advance(DefaultReconnectDelay - time.Millisecond)
	if d.count() != 1 {
		t.Fatalf("dialed before the reconnect delay elapsed")
	}

	clk.Advance(time.Minute)

	if got := d.count(); got != DefaultMaxAttempts {
		t.Fatalf("dials=%d want %d", got, DefaultMaxAttempts)
	}
	if got := rec.count(EventDisconnect); got != DefaultMaxAttempts {
		t.Fatalf("disconnect events=%d want %d", got, DefaultMaxAttempts)
	}
	if got := rec.count(EventError); got != DefaultMaxAttempts {
		t.Fatalf("error events=%d want %d", got, DefaultMaxAttempts)
	}
	if rec.count(EventConnect) != 0 {
		t.Fatalf("connect emitted without a successful open")
	}
	if c.State() != StateFailed {
		t.Fatalf("state=%v want failed", c.State())
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers still pending after failure: %d", clk.Pending())
	}

	// Failed is terminal.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect from failed: %v", err)
	}
	clk.Advance(time.Hour)
	if d.count() != DefaultMaxAttempts {
		t.Fatalf("failed client dialed again")
	}
}

func TestReconnect_SuccessResetsAttempts(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Time{})
	conn := newFakeConn()
	d := &fakeDialer{script: []dialResult{refuse, refuse, accept(conn)}}
	c := newTestClient(t, d, clk)
	rec := newRecorder(t, c)

	_ = c.Connect(context.Background())
	clk.Advance(DefaultReconnectDelay)
	if c.Attempts() != 2 {
		t.Fatalf("attempts=%d want 2", c.Attempts())
	}
	clk.Advance(DefaultReconnectDelay)

	if c.State() != StateOpen {
		t.Fatalf("state=%v want open", c.State())
	}
	if c.Attempts() != 0 {
		t.Fatalf("attempts=%d want 0 after open", c.Attempts())
	}
	if rec.count(EventConnect) != 1 || rec.count(EventDisconnect) != 2 {
		t.Fatalf("connect=%d disconnect=%d", rec.count(EventConnect), rec.count(EventDisconnect))
	}
	if s := c.Stats(); s.Connects != 1 || s.Reconnects != 2 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestUnsolicitedClose_SchedulesReconnect(t *testing.T) {
	t.Parallel()

	c, conn, d, clk, rec := openClient(t)

	conn.drop()
	rec.waitFor(t, EventDisconnect, 1)

	if c.State() != StateReconnecting || c.Attempts() != 1 {
		t.Fatalf("state=%v attempts=%d", c.State(), c.Attempts())
	}
	// Only the reconnect timer remains; keep-alive was cancelled.
	if clk.Pending() != 1 {
		t.Fatalf("pending timers=%d want 1", clk.Pending())
	}

	next := newFakeConn()
	d.mu.Lock()
	d.script = []dialResult{accept(next)}
	d.mu.Unlock()

	clk.Advance(DefaultReconnectDelay)
	if c.State() != StateOpen || rec.count(EventConnect) != 2 {
		t.Fatalf("state=%v connects=%d", c.State(), rec.count(EventConnect))
	}
}

func TestDisconnect_SuppressesReconnect(t *testing.T) {
	t.Parallel()

	c, conn, d, clk, rec := openClient(t)

	c.Disconnect()

	if rec.count(EventDisconnect) != 1 {
		t.Fatalf("disconnect events=%d want 1", rec.count(EventDisconnect))
	}
	if conn.closeCount() != 1 {
		t.Fatalf("conn closed %d times", conn.closeCount())
	}
	if c.State() != StateIdle {
		t.Fatalf("state=%v want idle", c.State())
	}

	// The close notification that follows must not schedule anything.
	conn.drop()
	time.Sleep(20 * time.Millisecond)
	clk.Advance(time.Minute)

	if d.count() != 1 {
		t.Fatalf("reconnected after Disconnect: dials=%d", d.count())
	}
	if clk.Pending() != 0 {
		t.Fatalf("pending timers=%d want 0", clk.Pending())
	}
	if rec.count(EventDisconnect) != 1 || c.Attempts() != 0 {
		t.Fatalf("disconnect events=%d attempts=%d", rec.count(EventDisconnect), c.Attempts())
	}

	// Idempotent.
	c.Disconnect()
	if rec.count(EventDisconnect) != 1 {
		t.Fatalf("second Disconnect emitted again")
	}
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Time{})
	d := &fakeDialer{fallback: refuse}
	c := newTestClient(t, d, clk)

	_ = c.Connect(context.Background())
	if c.State() != StateReconnecting {
		t.Fatalf("state=%v", c.State())
	}

	c.Disconnect()
	clk.Advance(time.Minute)

	if d.count() != 1 {
		t.Fatalf("stale reconnect timer fired: dials=%d", d.count())
	}
	if c.State() != StateIdle {
		t.Fatalf("state=%v want idle", c.State())
	}
}

func TestDisconnect_DuringDialDiscardsConnection(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Time{})
	conn := newFakeConn()
	started := make(chan struct{})
	release := make(chan struct{})
	d := &fakeDialer{script: []dialResult{func(context.Context) (Conn, error) {
		close(started)
		<-release
		return conn, nil
	}}}
	c := newTestClient(t, d, clk)
	rec := newRecorder(t, c)

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background()) }()
	<-started

	c.Disconnect()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if c.State() != StateIdle {
		t.Fatalf("state=%v want idle", c.State())
	}
	if rec.count(EventConnect) != 0 || rec.count(EventDisconnect) != 0 {
		t.Fatalf("events emitted for discarded dial")
	}
	if conn.closeCount() != 1 {
		t.Fatalf("discarded conn not closed")
	}
}

func TestDispatch_PreservesOrderAcrossSubscribers(t *testing.T) {
	t.Parallel()

	c, conn, _, _, _ := openClient(t)

	var mu sync.Mutex
	var seq []string
	add := func(s string) {
		mu.Lock()
		seq = append(seq, s)
		mu.Unlock()
	}
	mustOn(t, c, EventFrame, func(ev Event) { add("A:" + ev.Frame.Data) })
	mustOn(t, c, EventStats, func(ev Event) { add("S:" + string(ev.Data)) })
	done := make(chan struct{})
	mustOn(t, c, EventFrame, func(ev Event) {
		add("B:" + ev.Frame.Data)
		if ev.Frame.Data == "f2" {
			close(done)
		}
	})

	conn.push(`{"type":"frame","data":"f1","fps":30,"timestamp":1}`)
	conn.push(`{"type":"stats","data":{"total_detections":1}}`)
	conn.push(`{"type":"frame","data":"f2","fps":30,"timestamp":2}`)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for f2")
	}

	want := []string{"A:f1", "B:f1", `S:{"total_detections":1}`, "A:f2", "B:f2"}
	mu.Lock()
	defer mu.Unlock()
	if len(seq) != len(want) {
		t.Fatalf("seq=%v want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("seq=%v want %v", seq, want)
		}
	}
}

func TestDispatch_MalformedMessageIsDropped(t *testing.T) {
	t.Parallel()

	c, conn, _, _, rec := openClient(t)

	conn.push(`{"type":"frame","data":"f1"}`)
	conn.push(`{"type":"frame","data":`)
	conn.push(`{"type":"frame","data":"f2"}`)
	rec.waitFor(t, EventFrame, 2)

	if rec.count(EventDisconnect) != 0 || rec.count(EventError) != 0 {
		t.Fatalf("malformed message affected the connection")
	}
	if c.State() != StateOpen {
		t.Fatalf("state=%v want open", c.State())
	}
	if s := c.Stats(); s.DecodeFailures != 1 || s.Messages[v1.TypeFrame] != 2 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestDispatch_PayloadKinds(t *testing.T) {
	t.Parallel()

	c, conn, _, _, rec := openClient(t)

	conn.push(`{"type":"pong"}`)
	conn.push(`{"type":"hello","data":1}`)
	conn.push(`{"type":"fps","data":24.5}`)
	conn.push(`{"type":"event","data":{"session_id":"s1","roi_id":"r1","status":"present","person_detected":true,"confidence":0.9}}`)
	conn.push(`{"type":"stats","data":{"total_detections":7,"face_stats":{"known":2}}}`)
	rec.waitFor(t, EventStats, 1)

	rec.mu.Lock()
	events := append([]Event(nil), rec.events...)
	rec.mu.Unlock()

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	// connect, then fps, event, stats; pong and unknown types emit nothing.
	want := []EventKind{EventConnect, EventFPS, EventEvent, EventStats}
	if len(kinds) != len(want) {
		t.Fatalf("kinds=%v want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds=%v want %v", kinds, want)
		}
	}

	if fps, err := events[1].FPS(); err != nil || fps != 24.5 {
		t.Fatalf("fps=%v err=%v", fps, err)
	}
	if det, err := events[2].Detection(); err != nil || det.ROIID != "r1" || !det.PersonDetected {
		t.Fatalf("detection=%+v err=%v", det, err)
	}
	if st, err := events[3].Statistics(); err != nil || st.TotalDetections != 7 || st.FaceStats["known"] != 2 {
		t.Fatalf("stats=%+v err=%v", st, err)
	}
	if _, err := events[3].FPS(); err == nil {
		t.Fatalf("FPS on a stats event should fail")
	}
	if s := c.Stats(); s.Dropped != 1 || s.Messages[v1.TypePong] != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestKeepAlive_PingsWhileOpen(t *testing.T) {
	t.Parallel()

	c, conn, _, clk, _ := openClient(t)

	clk.Advance(DefaultPingInterval - time.Second)
	if len(conn.written()) != 0 {
		t.Fatalf("pinged early: %v", conn.written())
	}
	clk.Advance(time.Second)
	clk.Advance(DefaultPingInterval)

	w := conn.written()
	if len(w) != 2 || w[0] != `{"type":"ping"}` || w[1] != `{"type":"ping"}` {
		t.Fatalf("writes=%v want two pings", w)
	}

	c.Disconnect()
	clk.Advance(time.Hour)
	if len(conn.written()) != 2 {
		t.Fatalf("pinged after disconnect")
	}
}

func TestSend_OnlyWhenOpen(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Time{})
	conn := newFakeConn()
	c := newTestClient(t, &fakeDialer{script: []dialResult{accept(conn)}}, clk)

	if c.RequestStats(context.Background()) {
		t.Fatalf("Send succeeded while idle")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.RequestStats(context.Background()) {
		t.Fatalf("Send failed while open")
	}
	msg, err := v1.WithData("request_frame", map[string]string{"roi_id": "r1"})
	if err != nil {
		t.Fatalf("WithData: %v", err)
	}
	if !c.Send(context.Background(), msg) {
		t.Fatalf("Send failed while open")
	}

	w := conn.written()
	if len(w) != 2 || w[0] != `{"type":"request_stats"}` {
		t.Fatalf("writes=%v", w)
	}
	var got v1.Message
	if err := json.Unmarshal([]byte(w[1]), &got); err != nil || got.Type != "request_frame" {
		t.Fatalf("second write=%s err=%v", w[1], err)
	}

	c.Disconnect()
	if c.RequestStats(context.Background()) {
		t.Fatalf("Send succeeded after disconnect")
	}
}

func TestConnect_NoOpWhenOpen(t *testing.T) {
	t.Parallel()

	c, _, d, _, rec := openClient(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if d.count() != 1 || rec.count(EventConnect) != 1 {
		t.Fatalf("dials=%d connects=%d", d.count(), rec.count(EventConnect))
	}
	if d.urls[0] != "ws://backend.test/api/v1/ws/s1" {
		t.Fatalf("dialed %q", d.urls[0])
	}
}

func TestOnOff(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeDialer{}, clock.NewManual(time.Time{}))

	if _, err := c.On("frames", func(Event) {}); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("err=%v want ErrUnknownEventKind", err)
	}
	if _, err := c.On(EventFrame, nil); err == nil {
		t.Fatalf("nil handler accepted")
	}

	var calls []string
	fn := func(ev Event) { calls = append(calls, ev.Frame.Data) }
	h1 := mustOn(t, c, EventFrame, fn)
	h2 := mustOn(t, c, EventFrame, fn)
	if h1 == h2 {
		t.Fatalf("handles must be distinct")
	}

	if !c.Off(h1) {
		t.Fatalf("Off(h1) = false")
	}
	if c.Off(h1) {
		t.Fatalf("Off(h1) twice = true")
	}

	c.reg.emit(Event{Kind: EventFrame, Frame: v1.Frame{Data: "x"}})
	if len(calls) != 1 {
		t.Fatalf("calls=%d want 1: identical handler registered twice keeps one registration", len(calls))
	}
	if !c.Off(h2) {
		t.Fatalf("Off(h2) = false")
	}
}

func mustOn(t *testing.T, c *Client, kind EventKind, fn Handler) Handle {
	t.Helper()
	h, err := c.On(kind, fn)
	if err != nil {
		t.Fatalf("On(%s): %v", kind, err)
	}
	return h
}

func eventKinds(r *recorder) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestDisconnect_WhileFrameHandlerRuns(t *testing.T) {
	t.Parallel()

	c, conn, _, _, rec := openClient(t)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	mustOn(t, c, EventFrame, func(Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})

	conn.push(`{"type":"frame","data":"f1"}`)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("frame handler never ran")
	}

	// Queued behind the blocked handler; the read loop may pick them up after the close.
	conn.push(`{"type":"frame","data":"f2"}`)
	conn.push(`{"type":"frame","data":"f3"}`)

	done := make(chan struct{})
	go func() {
		c.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Disconnect blocked on a running handler")
	}
	if c.State() != StateIdle {
		t.Fatalf("state=%v want idle", c.State())
	}

	close(release)
	rec.waitFor(t, EventDisconnect, 1)
	time.Sleep(50 * time.Millisecond)

	want := []EventKind{EventConnect, EventFrame, EventDisconnect}
	got := eventKinds(rec)
	if len(got) != len(want) {
		t.Fatalf("sequence=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence=%v want %v", got, want)
		}
	}
	if c.State() != StateIdle {
		t.Fatalf("state=%v want idle", c.State())
	}
}

func TestHandlersNeverOverlap(t *testing.T) {
	t.Parallel()

	c, conn, _, _, rec := openClient(t)

	var (
		mu      sync.Mutex
		active  int
		overlap bool
	)
	track := func(Event) {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}
	mustOn(t, c, EventFrame, track)
	mustOn(t, c, EventDisconnect, track)

	for i := 0; i < 20; i++ {
		conn.push(`{"type":"frame","data":"f"}`)
	}
	rec.waitFor(t, EventFrame, 5)
	c.Disconnect()
	rec.waitFor(t, EventDisconnect, 1)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatalf("handlers ran concurrently")
	}
	kinds := eventKinds(rec)
	if kinds[len(kinds)-1] != EventDisconnect {
		t.Fatalf("sequence=%v: disconnect must be last", kinds)
	}
}

func TestDisconnect_FromHandler(t *testing.T) {
	t.Parallel()

	c, conn, _, _, rec := openClient(t)
	mustOn(t, c, EventFrame, func(Event) { c.Disconnect() })

	conn.push(`{"type":"frame","data":"f1"}`)
	rec.waitFor(t, EventDisconnect, 1)

	want := []EventKind{EventConnect, EventFrame, EventDisconnect}
	got := eventKinds(rec)
	if len(got) != len(want) {
		t.Fatalf("sequence=%v want %v", got, want)
	}
	if c.State() != StateIdle {
		t.Fatalf("state=%v want idle", c.State())
	}
}
