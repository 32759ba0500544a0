package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"argus/cmd/internal/mockserver"

	"golang.org/x/crypto/bcrypt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func startMock(t *testing.T) (*mockserver.Server, *httptest.Server) {
	t.Helper()
	cfg := mockserver.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	cfg.FrameInterval = 20 * time.Millisecond
	cfg.StatsInterval = 40 * time.Millisecond

	srv, err := mockserver.New(cfg, mockserver.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("mockserver.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func testAppConfig(apiBase string) Config {
	return Config{
		APIBaseURL:           apiBase,
		LogLevel:             "debug",
		LogFormat:            "json",
		CredBackend:          CredBackendMemory,
		RedisPrefix:          "argus:cred:",
		DBSchema:             "argus",
		StreamPingInterval:   time.Second,
		StreamReconnectDelay: 50 * time.Millisecond,
		StreamMaxAttempts:    3,
		StreamReadLimit:      1 << 20,
	}
}

func newTestApp(t *testing.T, cfg Config, log *slog.Logger) *App {
	t.Helper()
	if log == nil {
		log = discardLogger()
	}
	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
