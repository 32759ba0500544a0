package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"argus/cmd/internal/auth/session"
	"argus/cmd/internal/auth/transport"
	"argus/cmd/internal/credstore"
	"argus/cmd/internal/mockserver"

	"golang.org/x/crypto/bcrypt"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startMock(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := mockserver.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	srv, err := mockserver.New(cfg, mockserver.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("mockserver.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}

func newManager(t *testing.T, baseURL string, store credstore.Store) (*session.Manager, *transport.Client) {
	t.Helper()
	tr, err := transport.New(baseURL+"/api/v1", transport.WithLogger(quietLogger()), transport.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	m, err := session.NewManager(tr, store, session.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m, tr
}

func TestManagerAgainstMock_LoginRestoreRefreshLogout(t *testing.T) {
	t.Parallel()
	ts := startMock(t)
	store := credstore.NewMemoryStore()
	ctx := context.Background()

	m, _ := newManager(t, ts.URL, store)
	m.Restore(ctx)
	if m.State() != session.StateUnauthenticated {
		t.Fatalf("state=%v", m.State())
	}

	u, err := m.Login(ctx, "operator", "operator123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !u.IsOperator() || u.IsAdmin() {
		t.Fatalf("roles for %+v", u)
	}

	// A second process restores the persisted session and can call /auth/me with it.
	m2, _ := newManager(t, ts.URL, store)
	m2.Restore(ctx)
	if m2.State() != session.StateAuthenticated {
		t.Fatalf("restored state=%v", m2.State())
	}
	me, err := m2.Me(ctx)
	if err != nil || me.Username != "operator" {
		t.Fatalf("Me: %+v err=%v", me, err)
	}

	old := m2.Token()
	if _, err := m2.RefreshToken(ctx); err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if m2.Token() == old {
		t.Fatalf("token not rotated")
	}

	// The first manager still holds the rotated-out token: its next call is a forced logout.
	var expired atomic.Int32
	m.OnExpired(func(transport.ExpiredEvent) { expired.Add(1) })
	_, err = m.Me(ctx)
	if transport.StatusOf(err) != http.StatusUnauthorized || !errors.Is(err, transport.ErrAuthorizationExpired) {
		t.Fatalf("Me with revoked token err=%v", err)
	}
	if m.State() != session.StateUnauthenticated || expired.Load() != 1 {
		t.Fatalf("state=%v expired=%d", m.State(), expired.Load())
	}

	m2.Logout(ctx)
	if m2.State() != session.StateUnauthenticated || m2.Token() != "" {
		t.Fatalf("after logout state=%v", m2.State())
	}
	if _, err := store.Get(ctx, credstore.KeyAccessToken); !errors.Is(err, credstore.ErrNotFound) {
		t.Fatalf("token still persisted: err=%v", err)
	}
}

func TestManagerAgainstMock_BadCredentials(t *testing.T) {
	t.Parallel()
	ts := startMock(t)
	m, _ := newManager(t, ts.URL, credstore.NewMemoryStore())
	m.Restore(context.Background())

	_, err := m.Login(context.Background(), "admin", "wrong")
	if !errors.Is(err, session.ErrAuthenticationFailed) {
		t.Fatalf("err=%v want ErrAuthenticationFailed", err)
	}
	if m.State() != session.StateUnauthenticated {
		t.Fatalf("state=%v", m.State())
	}
	if snap := m.Snapshot(); snap.LastError == nil {
		t.Fatalf("LastError not recorded")
	}
}

func TestManagerAgainstMock_CorruptFileIsClearedAndReplaced(t *testing.T) {
	t.Parallel()
	ts := startMock(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, err := credstore.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	m, _ := newManager(t, ts.URL, store)
	m.Restore(ctx)
	if m.State() != session.StateUnauthenticated {
		t.Fatalf("state=%v", m.State())
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("restore must clear the unreadable file, stat err=%v", err)
	}

	if _, err := m.Login(ctx, "viewer", "viewer123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	reopened, _ := credstore.NewFileStore(path)
	m2, _ := newManager(t, ts.URL, reopened)
	m2.Restore(ctx)
	if m2.State() != session.StateAuthenticated || m2.User() == nil || m2.User().Username != "viewer" {
		t.Fatalf("restart: state=%v user=%+v", m2.State(), m2.User())
	}
}
