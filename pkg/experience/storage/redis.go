package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis storage backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	Address string `yaml:"address" env:"ADDRESS"`

	// Password for Redis authentication (optional).
	Password string `yaml:"password" env:"PASSWORD"`

	// Database number to use (default: 0).
	Database int `yaml:"database" env:"DATABASE"`

	// Prefix is prepended to all keys, typically including the visitor
	// scope (e.g., "experience:visitor:<session>:").
	Prefix string `yaml:"prefix" env:"PREFIX"`

	// Timeout bounds each Redis operation.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "experience:",
		Timeout: 2 * time.Second,
	}
}

// RedisStorage stores values in Redis so several server instances observe
// the same visitor state.
type RedisStorage struct {
	cfg    RedisConfig
	client redis.UniversalClient
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisConfig("").Timeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStorageWithClient(client, cfg), nil
}

// NewRedisStorageWithClient wraps an existing client.
func NewRedisStorageWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisStorage {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisConfig("").Timeout
	}
	return &RedisStorage{cfg: cfg, client: client}
}

func (r *RedisStorage) key(k string) string {
	return r.cfg.Prefix + k
}

// Get implements Storage.
func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set implements Storage.
func (r *RedisStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Storage.
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close implements Storage.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
