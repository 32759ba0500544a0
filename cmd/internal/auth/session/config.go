package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config defines runtime configuration for the session manager.
type Config struct {
	// RefreshAhead schedules a proactive RefreshToken this long before the access token's
	// "exp" claim. Zero disables proactive refresh.
	RefreshAhead time.Duration `env:"REFRESH_AHEAD, default=0s"`

	// MinRefreshDelay bounds how soon a proactive refresh may run after arming.
	MinRefreshDelay time.Duration `env:"MIN_REFRESH_DELAY, default=5s"`

	// LogoutTimeout bounds the best-effort backend logout call.
	LogoutTimeout time.Duration `env:"LOGOUT_TIMEOUT, default=5s"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		MinRefreshDelay: 5 * time.Second,
		LogoutTimeout:   5 * time.Second,
	}
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	if c.RefreshAhead < 0 || c.MinRefreshDelay < 0 || c.LogoutTimeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrConfig)
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from ARGUS_SESSION_* variables:
//   - ARGUS_SESSION_REFRESH_AHEAD
//   - ARGUS_SESSION_MIN_REFRESH_DELAY
//   - ARGUS_SESSION_LOGOUT_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("ARGUS_SESSION_", envconfig.OsLookuper()),
	}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
