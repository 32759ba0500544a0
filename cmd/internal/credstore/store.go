// Package credstore persists the bearer credential and the serialized user record.
//
// The session manager is the only writer. Backends are interchangeable: Memory for
// tests and ephemeral runs, File for a workstation, Redis and Postgres for shared
// kiosk deployments where several dashboards restore the same operator session.
package credstore

import (
	"context"
	"errors"
	"log/slog"

	"argus/cmd/internal/metrics"
)

// Well-known keys written by the session manager.
const (
	KeyAccessToken = "access_token"
	KeyUser        = "user"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("credstore: not found")

	// ErrSealed is returned when a sealed file cannot be opened with the configured passphrase.
	ErrSealed = errors.New("credstore: cannot unseal")

	// ErrCorrupt is returned by Get when the file backend holds undecodable content.
	// Set and Remove replace such content instead of failing.
	ErrCorrupt = errors.New("credstore: corrupt file")

	// ErrConfig is returned for invalid backend configuration.
	ErrConfig = errors.New("credstore: invalid config")
)

// Store is an opaque string key/value persistence capability.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Remove is a no-op for absent keys.
	Remove(ctx context.Context, key string) error
}

// Instrument wraps s so every operation is counted under backend and failures are logged.
func Instrument(backend string, s Store, log *slog.Logger) Store {
	if log == nil {
		log = slog.Default()
	}
	return &instrumented{backend: backend, next: s, log: log}
}

type instrumented struct {
	backend string
	next    Store
	log     *slog.Logger
}

func (s *instrumented) Get(ctx context.Context, key string) (string, error) {
	v, err := s.next.Get(ctx, key)
	s.observe("get", key, err)
	return v, err
}

func (s *instrumented) Set(ctx context.Context, key, value string) error {
	err := s.next.Set(ctx, key, value)
	s.observe("set", key, err)
	return err
}

func (s *instrumented) Remove(ctx context.Context, key string) error {
	err := s.next.Remove(ctx, key)
	s.observe("remove", key, err)
	return err
}

func (s *instrumented) observe(op, key string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
		s.log.Warn("credstore.op.fail", "backend", s.backend, "op", op, "key", key, "err", err)
	}
	metrics.CredStoreOpsTotal.WithLabelValues(s.backend, op, result).Inc()
}
