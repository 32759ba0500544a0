package mockserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/crypto/bcrypt"
)

// Config defines runtime configuration for the mock backend.
type Config struct {
	Addr string `env:"ADDR, default=127.0.0.1:8000"`

	// JWTSecret signs access tokens (HS256). It must be at least 16 bytes.
	JWTSecret string        `env:"JWT_SECRET, default=argus-mock-insecure-secret"`
	TokenTTL  time.Duration `env:"TOKEN_TTL, default=30m"`

	BcryptCost int `env:"BCRYPT_COST, default=10"`

	// Failed logins per username allowed inside LoginWindow before 429.
	LoginMaxFailures int           `env:"LOGIN_MAX_FAILURES, default=5"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW, default=1m"`

	MaxBodyBytes int64 `env:"MAX_BODY_BYTES, default=1048576"`

	FrameInterval  time.Duration `env:"FRAME_INTERVAL, default=100ms"`
	StatsInterval  time.Duration `env:"STATS_INTERVAL, default=1s"`
	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT, default=5s"`
	WSSendQueue    int           `env:"WS_SEND_QUEUE, default=64"`

	// WSOriginPatterns authorizes cross-origin websocket handshakes (host patterns).
	// Same-host and Origin-less clients are always accepted.
	WSOriginPatterns []string `env:"WS_ORIGIN_PATTERNS"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Addr:             "127.0.0.1:8000",
		JWTSecret:        "argus-mock-insecure-secret",
		TokenTTL:         30 * time.Minute,
		BcryptCost:       bcrypt.DefaultCost,
		LoginMaxFailures: 5,
		LoginWindow:      time.Minute,
		MaxBodyBytes:     1 << 20,
		FrameInterval:    100 * time.Millisecond,
		StatsInterval:    time.Second,
		WSWriteTimeout:   5 * time.Second,
		WSSendQueue:      64,
	}
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("%w: JWT secret must be at least 16 bytes", ErrConfig)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: token TTL must be positive", ErrConfig)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("%w: bcrypt cost out of range", ErrConfig)
	}
	if c.LoginMaxFailures < 0 || (c.LoginMaxFailures > 0 && c.LoginWindow <= 0) {
		return fmt.Errorf("%w: invalid login throttle", ErrConfig)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	}
	if c.FrameInterval <= 0 || c.StatsInterval <= 0 || c.WSWriteTimeout <= 0 {
		return fmt.Errorf("%w: stream intervals must be positive", ErrConfig)
	}
	if c.WSSendQueue <= 0 {
		return fmt.Errorf("%w: send queue must be positive", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv loads ARGUS_MOCK_* variables.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("ARGUS_MOCK_", envconfig.OsLookuper()),
	}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
