package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"argus/cmd/internal/auth/transport"
	"argus/cmd/internal/stream"
)

// ErrStreamFailed is returned by Run when the stream client exhausted its reconnect attempts.
var ErrStreamFailed = errors.New("app: stream failed")

// Run is the CLI entrypoint used by cmd/argus. It blocks until ctx is done, the session is
// force-expired, or the stream fails. It returns an error instead of calling os.Exit.
func Run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("argus", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sessionID := fs.String("session", "", "analytics session to stream (empty: sign in only)")
	statsEvery := fs.Duration("stats-every", 0, "request statistics on this interval (0 disables)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	return a.run(ctx, *sessionID, *statsEvery)
}

func (a *App) run(parent context.Context, sessionID string, statsEvery time.Duration) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	stopExpired := a.sess.OnExpired(func(ev transport.ExpiredEvent) {
		// Forced logout is the navigation point: the operator has to sign in again.
		a.log.Warn("app.session.expired",
			"method", ev.Method,
			"path", ev.Path,
			"token_fp", ev.TokenFingerprint,
			"action", "navigate_login",
		)
		cancel(transport.ErrAuthorizationExpired)
	})
	defer stopExpired()

	if a.cfg.OpsAddr != "" {
		go func() {
			if err := a.ServeOps(ctx); err != nil {
				cancel(err)
			}
		}()
	}

	if _, err := a.SignIn(ctx); err != nil {
		return err
	}

	if sessionID == "" {
		a.log.Info("app.idle", "hint", "pass -session to attach a stream")
		<-ctx.Done()
		return runResult(ctx)
	}

	c, err := a.NewStream(sessionID)
	if err != nil {
		return err
	}
	detach, err := watchStream(c, a.log, func() { cancel(ErrStreamFailed) })
	if err != nil {
		return err
	}
	defer detach()

	if err := c.Connect(ctx); err != nil {
		// The reconnect policy has already been applied.
		a.log.Warn("app.stream.connect.fail", "err", err)
	}

	var tick <-chan time.Time
	if statsEvery > 0 {
		t := time.NewTicker(statsEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.Disconnect()
			st := c.Stats()
			a.log.Info("app.stream.closed",
				"connects", st.Connects,
				"disconnects", st.Disconnects,
				"reconnects", st.Reconnects,
				"decode_failures", st.DecodeFailures,
			)
			return runResult(ctx)
		case <-tick:
			c.RequestStats(ctx)
		}
	}
}

// runResult maps a plain parent cancellation (signal) to a clean exit.
func runResult(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil
	}
	return cause
}

// watchStream logs stream events. onFailed runs once the client gives up reconnecting.
func watchStream(c *stream.Client, log *slog.Logger, onFailed func()) (func(), error) {
	var frames atomic.Uint64
	handlers := map[stream.EventKind]stream.Handler{
		stream.EventConnect: func(stream.Event) {
			log.Info("app.stream.open", "state", c.State().String())
		},
		stream.EventDisconnect: func(stream.Event) {
			state := c.State()
			log.Info("app.stream.disconnect", "state", state.String(), "attempts", c.Attempts())
			if state == stream.StateFailed {
				onFailed()
			}
		},
		stream.EventError: func(ev stream.Event) {
			log.Warn("app.stream.error", "err", ev.Err)
		},
		stream.EventFrame: func(ev stream.Event) {
			n := frames.Add(1)
			log.Debug("app.stream.frame", "frames", n, "bytes", len(ev.Frame.Data))
		},
		stream.EventFPS: func(ev stream.Event) {
			if fps, err := ev.FPS(); err == nil {
				log.Debug("app.stream.fps", "fps", fps)
			}
		},
		stream.EventStats: func(ev stream.Event) {
			st, err := ev.Statistics()
			if err != nil {
				log.Warn("app.stream.stats.bad", "err", err)
				return
			}
			log.Info("app.stream.stats",
				"total_detections", st.TotalDetections,
				"rois", len(st.ROIStats),
			)
		},
		stream.EventEvent: func(ev stream.Event) {
			d, err := ev.Detection()
			if err != nil {
				log.Warn("app.stream.event.bad", "err", err)
				return
			}
			log.Info("app.stream.detection", "roi_id", d.ROIID, "status", d.Status, "person", d.PersonDetected, "confidence", d.Confidence)
		},
	}

	var handles []stream.Handle
	detach := func() {
		for _, h := range handles {
			c.Off(h)
		}
	}
	for kind, fn := range handlers {
		h, err := c.On(kind, fn)
		if err != nil {
			detach()
			return nil, fmt.Errorf("subscribe %s: %w", kind, err)
		}
		handles = append(handles, h)
	}
	return detach, nil
}
