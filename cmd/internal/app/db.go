package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The postgres credential backend reads and writes one small row per login, refresh
// or logout, so the pool stays small and lets idle connections go.
const (
	credPoolMaxConns    = 4
	credPoolIdleTime    = 5 * time.Minute
	credPoolPingTimeout = 3 * time.Second
	credPoolAppName     = "argus-credstore"
)

// credPoolConfig derives the credential store pool settings from cfg.
// An application_name in DATABASE_URL is kept.
func credPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: DATABASE_URL: %v", ErrConfig, err)
	}

	pcfg.MaxConns = credPoolMaxConns
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	pcfg.MinConns = min(max(cfg.DBMinConns, 0), pcfg.MaxConns)
	pcfg.MaxConnIdleTime = credPoolIdleTime

	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = make(map[string]string)
	}
	if pcfg.ConnConfig.RuntimeParams["application_name"] == "" {
		pcfg.ConnConfig.RuntimeParams["application_name"] = credPoolAppName
	}
	return pcfg, nil
}

// openCredPool opens the credential store pool and fails fast if postgres is unreachable.
func openCredPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := credPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("credstore postgres: %w", err)
	}
	if err := pingCredPool(ctx, pool, credPoolPingTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// pingCredPool backs /readyz for the postgres backend.
func pingCredPool(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("credstore postgres ping: %w", err)
	}
	return nil
}
