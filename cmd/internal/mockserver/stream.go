package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"argus/cmd/internal/metrics"
	v1 "argus/shared/contracts/stream/v1"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
)

const (
	streamReadLimit  = 64 << 10
	streamCloseGrace = time.Second
)

// handleStream serves /api/v1/ws/{session_id}: periodic frame, fps and stats messages plus
// detection events while the session is detecting. Unknown sessions are closed with 1003.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.WSOriginPatterns,
	})
	if err != nil {
		s.log.Error("mock.ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if !s.sessions.exists(id) {
		s.log.Info("mock.ws.reject.unknown_session", "session_id", id)
		_ = conn.Close(websocket.StatusUnsupportedData, "Session not found")
		return
	}
	conn.SetReadLimit(streamReadLimit)

	metrics.MockStreamsActive.Inc()
	defer metrics.MockStreamsActive.Dec()
	s.log.Info("mock.ws.open", "session_id", id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	send := make(chan v1.Message, s.cfg.WSSendQueue)
	enqueue := func(m v1.Message) bool {
		select {
		case <-ctx.Done():
			return false
		case send <- m:
			return true
		default:
			return false
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-send:
				if err := s.writeMessage(ctx, conn, m); err != nil {
					s.log.Info("mock.ws.write.fail", "session_id", id, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	frames := newFrameRenderer()
	nextFrame := func() (v1.Message, error) {
		data, err := frames.Next()
		if err != nil {
			return v1.Message{}, err
		}
		return v1.NewFrame(v1.Frame{
			Data:      data,
			FPS:       s.nominalFPS(),
			Timestamp: float64(s.now().UnixMilli()) / 1000,
		}), nil
	}
	statsMessage := func() (v1.Message, bool) {
		st, err := s.sessions.statistics(id)
		if err != nil {
			return v1.Message{}, false
		}
		m, err := v1.WithData(v1.TypeStats, st)
		return m, err == nil
	}

	go func() {
		defer wg.Done()
		frameTick := time.NewTicker(s.cfg.FrameInterval)
		defer frameTick.Stop()
		statsTick := time.NewTicker(s.cfg.StatsInterval)
		defer statsTick.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				shutdown(websocket.StatusGoingAway, "server shutting down")
				return
			case <-frameTick.C:
				m, err := nextFrame()
				if err != nil {
					s.log.Error("mock.ws.frame.fail", "session_id", id, "err", err)
					continue
				}
				enqueue(m)
			case <-statsTick.C:
				events, ok := s.sessions.simulate(id, s.now().UTC())
				if !ok {
					shutdown(websocket.StatusGoingAway, "Session deleted")
					return
				}
				for _, ev := range events {
					if m, err := v1.WithData(v1.TypeEvent, ev); err == nil {
						enqueue(m)
					}
				}
				if m, err := v1.WithData(v1.TypeFPS, s.nominalFPS()); err == nil {
					enqueue(m)
				}
				if m, ok := statsMessage(); ok {
					enqueue(m)
				}
			}
		}
	}()

readLoop:
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
				shutdown(websocket.StatusNormalClosure, "closed")
			default:
				s.log.Info("mock.ws.read.fail", "session_id", id, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		msg, err := v1.Decode(raw)
		if err != nil {
			s.log.Info("mock.ws.bad_message", "session_id", id, "err", err)
			continue
		}
		switch msg.Type {
		case v1.TypePing:
			enqueue(v1.Control(v1.TypePong))
		case v1.TypeRequestStats:
			if m, ok := statsMessage(); ok {
				enqueue(m)
			}
		case v1.TypeRequestFrame:
			if m, err := nextFrame(); err == nil {
				enqueue(m)
			}
		default:
			s.log.Debug("mock.ws.ignored", "session_id", id, "type", msg.Type)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(streamCloseGrace):
	}
	s.log.Info("mock.ws.closed", "session_id", id)
}

func (s *Server) writeMessage(parent context.Context, conn *websocket.Conn, m v1.Message) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.WSWriteTimeout)
	defer cancel()

	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func (s *Server) nominalFPS() float64 {
	return 1 / s.cfg.FrameInterval.Seconds()
}
