// Package app wires the argus client runtime: config, logging, the credential store,
// the authenticated transport, the session manager, stream clients and the ops listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"argus/cmd/internal/api"
	"argus/cmd/internal/auth/session"
	"argus/cmd/internal/auth/transport"
	"argus/cmd/internal/credstore"
	"argus/cmd/internal/stream"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoCredentials is returned by SignIn when nothing could be restored and no login is configured.
var ErrNoCredentials = errors.New("app: no stored session and no login configured")

// App owns the client-side components and their lifecycle.
type App struct {
	cfg Config
	log Logger

	creds   credstore.Store
	release resource
	dbPool  *pgxpool.Pool

	tr   *transport.Client
	sess *session.Manager
	api  *api.Client
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	creds, release, pool, err := newCredStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	trOpts := []transport.Option{transport.WithLogger(log)}
	if cfg.HTTPTimeout > 0 {
		trOpts = append(trOpts, transport.WithTimeout(cfg.HTTPTimeout))
	}
	tr, err := transport.New(cfg.APIBaseURL, trOpts...)
	if err != nil {
		_ = release.Close(ctx)
		return nil, err
	}

	sessCfg, err := sessionConfig(ctx, cfg)
	if err != nil {
		_ = release.Close(ctx)
		return nil, err
	}
	sess, err := session.NewManager(tr, creds, session.WithLogger(log), session.WithConfig(sessCfg))
	if err != nil {
		_ = release.Close(ctx)
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		creds:   creds,
		release: release,
		dbPool:  pool,
		tr:      tr,
		sess:    sess,
		api:     api.New(tr),
	}, nil
}

// sessionConfig loads ARGUS_SESSION_* and lets a non-zero ARGUS_REFRESH_AHEAD override
// the session-level refresh lead.
func sessionConfig(ctx context.Context, cfg Config) (session.Config, error) {
	sc, err := session.LoadConfigFromEnv(ctx)
	if err != nil {
		return session.Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if cfg.RefreshAhead > 0 {
		sc.RefreshAhead = cfg.RefreshAhead
	}
	return sc, nil
}

// Session returns the session manager.
func (a *App) Session() *session.Manager { return a.sess }

// API returns the typed REST client sharing the session's transport.
func (a *App) API() *api.Client { return a.api }

// SignIn restores a persisted session, falling back to the configured username and password.
func (a *App) SignIn(ctx context.Context) (session.User, error) {
	a.sess.Restore(ctx)
	if snap := a.sess.Snapshot(); snap.State == session.StateAuthenticated && snap.User != nil {
		a.log.Info("app.signin.restored", "user", snap.User.Username, "role", snap.User.EffectiveRole())
		return *snap.User, nil
	}
	if a.cfg.Username == "" {
		return session.User{}, ErrNoCredentials
	}
	u, err := a.sess.Login(ctx, a.cfg.Username, a.cfg.Password)
	if err != nil {
		return session.User{}, err
	}
	a.log.Info("app.signin.login", "user", u.Username, "role", u.EffectiveRole())
	return u, nil
}

// NewStream builds a stream client for one analytics session using the configured policy.
func (a *App) NewStream(sessionID string) (*stream.Client, error) {
	u, err := stream.StreamURL(a.cfg.APIBaseURL, sessionID)
	if err != nil {
		return nil, err
	}
	return stream.New(stream.Options{
		URL:            u,
		PingInterval:   a.cfg.StreamPingInterval,
		ReconnectDelay: a.cfg.StreamReconnectDelay,
		MaxAttempts:    a.cfg.StreamMaxAttempts,
		ReadLimit:      a.cfg.StreamReadLimit,
		Logger:         a.log.With("session_id", sessionID),
	})
}

// ServeOps runs the ops listener until ctx is done. It returns immediately when OpsAddr is empty.
func (a *App) ServeOps(ctx context.Context) error {
	if a.cfg.OpsAddr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              a.cfg.OpsAddr,
		Handler:           WithRequestLogging(a.opsHandler(), a.log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	a.log.Info("ops.start", "addr", a.cfg.OpsAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("ops.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("ops.fail", "err", err)
		return fmt.Errorf("ops listener: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close stops the session manager and releases the credential backend.
func (a *App) Close(ctx context.Context) error {
	a.sess.Close()
	if err := a.release.Close(ctx); err != nil {
		a.log.Error("app.close.fail", "err", err)
		return err
	}
	return nil
}
