package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "argus:cred:"
	redisConnectTimeout = 3 * time.Second
)

// RedisStore keeps credentials under prefixed redis string keys.
// The client is owned by the caller unless the store was built with NewRedisStoreFromURL.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	closer func() error
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(rdb redis.Cmdable, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("%w: nil redis client", ErrConfig)
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

// NewRedisStoreFromURL parses a redis:// URL, validates connectivity with a ping and
// returns a store that owns the client.
func NewRedisStoreFromURL(ctx context.Context, rawURL, prefix string) (*RedisStore, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: empty redis url", ErrConfig)
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	st, err := NewRedisStore(client, prefix)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	st.closer = client.Close
	return st, nil
}

// Close releases the client when the store owns it.
func (s *RedisStore) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
