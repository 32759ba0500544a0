package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Credential store backends.
const (
	CredBackendMemory   = "memory"
	CredBackendFile     = "file"
	CredBackendRedis    = "redis"
	CredBackendPostgres = "postgres"
)

// Config contains all runtime configuration loaded from ARGUS_* environment variables.
type Config struct {
	APIBaseURL  string        `env:"API_BASE_URL, default=http://localhost:8000/api/v1"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT, default=0s"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogFormat string `env:"LOG_FORMAT, default=json"`

	// Login credentials used when no persisted session can be restored.
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	CredBackend    string `env:"CRED_BACKEND, default=memory"`
	CredFile       string `env:"CRED_FILE"`
	CredPassphrase string `env:"CRED_PASSPHRASE"`

	RedisURL    string `env:"REDIS_URL"`
	RedisPrefix string `env:"REDIS_PREFIX, default=argus:cred:"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBSchema    string `env:"DB_SCHEMA, default=argus"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS, default=4"`
	DBMinConns  int32  `env:"DB_MIN_CONNS, default=0"`

	StreamPingInterval   time.Duration `env:"STREAM_PING_INTERVAL, default=30s"`
	StreamReconnectDelay time.Duration `env:"STREAM_RECONNECT_DELAY, default=3s"`
	StreamMaxAttempts    int           `env:"STREAM_MAX_ATTEMPTS, default=5"`
	StreamReadLimit      int64         `env:"STREAM_READ_LIMIT, default=1048576"`

	// RefreshAhead enables proactive token refresh this long before expiry. Zero disables it.
	RefreshAhead time.Duration `env:"REFRESH_AHEAD, default=0s"`

	// OpsAddr serves /healthz, /readyz and /metrics. Empty disables the listener.
	OpsAddr string `env:"OPS_ADDR"`
}

// LoadConfig loads Config from the process environment.
func LoadConfig(ctx context.Context) (Config, error) {
	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("ARGUS_", l),
	}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.APIBaseURL = strings.TrimSpace(c.APIBaseURL)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.CredBackend = strings.ToLower(strings.TrimSpace(c.CredBackend))
	c.Username = strings.TrimSpace(c.Username)
	c.OpsAddr = strings.TrimSpace(c.OpsAddr)
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: API_BASE_URL must be an http(s) URL, got %q", ErrConfig, c.APIBaseURL)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be json or pretty", ErrConfig)
	}
	if c.HTTPTimeout < 0 || c.RefreshAhead < 0 {
		return fmt.Errorf("%w: negative duration", ErrConfig)
	}
	if c.StreamPingInterval <= 0 || c.StreamReconnectDelay <= 0 || c.StreamMaxAttempts <= 0 {
		return fmt.Errorf("%w: stream ping interval, reconnect delay and max attempts must be positive", ErrConfig)
	}

	switch c.CredBackend {
	case CredBackendMemory:
	case CredBackendFile:
		if strings.TrimSpace(c.CredFile) == "" {
			return fmt.Errorf("%w: CRED_FILE is required for the file backend", ErrConfig)
		}
	case CredBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("%w: REDIS_URL is required for the redis backend", ErrConfig)
		}
	case CredBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres backend", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown CRED_BACKEND %q", ErrConfig, c.CredBackend)
	}
	return nil
}

type logSettings struct {
	Level  string `env:"LOG_LEVEL, default=info"`
	Format string `env:"LOG_FORMAT, default=json"`
}

// NewLoggerFromEnv builds the process logger from ARGUS_LOG_LEVEL and ARGUS_LOG_FORMAT only.
// Binaries that do not load the full Config (the mock backend) use it.
func NewLoggerFromEnv(ctx context.Context) (*slog.Logger, error) {
	var s logSettings
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &s,
		Lookuper: envconfig.PrefixLookuper("ARGUS_", envconfig.OsLookuper()),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return NewLogger(s.Level, s.Format), nil
}
