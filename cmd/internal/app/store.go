package app

import (
	"context"
	"fmt"

	"argus/cmd/internal/credstore"

	"github.com/jackc/pgx/v5/pgxpool"
)

// resource is anything the app must release on shutdown.
type resource interface {
	Close(ctx context.Context) error
}

type nopResource struct{}

func (nopResource) Close(context.Context) error { return nil }

type closeFunc func()

func (f closeFunc) Close(context.Context) error {
	f()
	return nil
}

// newCredStore builds the configured credential backend wrapped with instrumentation.
// The returned pool is non-nil only for the postgres backend; the app owns its lifecycle.
func newCredStore(ctx context.Context, cfg Config, log Logger) (credstore.Store, resource, *pgxpool.Pool, error) {
	switch cfg.CredBackend {
	case CredBackendMemory, "":
		log.Info("credstore.memory")
		return credstore.Instrument(CredBackendMemory, credstore.NewMemoryStore(), log), nopResource{}, nil, nil

	case CredBackendFile:
		var opts []credstore.FileOption
		if cfg.CredPassphrase != "" {
			opts = append(opts, credstore.WithPassphrase(cfg.CredPassphrase))
		}
		st, err := credstore.NewFileStore(cfg.CredFile, opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("credstore.file", "path", cfg.CredFile, "sealed", cfg.CredPassphrase != "")
		return credstore.Instrument(CredBackendFile, st, log), nopResource{}, nil, nil

	case CredBackendRedis:
		st, err := credstore.NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Info("credstore.redis", "prefix", cfg.RedisPrefix)
		return credstore.Instrument(CredBackendRedis, st, log), closeFunc(func() { _ = st.Close() }), nil, nil

	case CredBackendPostgres:
		pool, err := openCredPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		st, err := credstore.NewPostgresStore(pool, credstore.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		log.Info("credstore.postgres", "schema", cfg.DBSchema)
		return credstore.Instrument(CredBackendPostgres, st, log), closeFunc(pool.Close), pool, nil

	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown CRED_BACKEND %q", ErrConfig, cfg.CredBackend)
	}
}
