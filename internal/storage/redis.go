package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

var errMissingRedisClient = errors.New("storage: redis client is required")

// RedisConfig describes how to reach the Redis server backing durable values.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient initializes a redis client from the provided configuration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisStorage persists values as plain Redis strings without expiry.
type RedisStorage struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisStorage wraps a redis client; every key is namespaced with keyPrefix.
func NewRedisStorage(client redis.Cmdable, keyPrefix string) (*RedisStorage, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	return &RedisStorage{client: client, keyPrefix: keyPrefix}, nil
}

// Load reads the value stored under key.
func (r *RedisStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	normalized, err := validateKey(key)
	if err != nil {
		return nil, false, err
	}
	payload, err := r.client.Get(ctx, r.namespaced(normalized)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Save replaces the value stored under key.
func (r *RedisStorage) Save(ctx context.Context, key string, payload []byte) error {
	normalized, err := validateKey(key)
	if err != nil {
		return err
	}
	if payload == nil {
		return ErrNilPayload
	}
	return r.client.Set(ctx, r.namespaced(normalized), payload, 0).Err()
}

func (r *RedisStorage) namespaced(key string) string {
	return r.keyPrefix + key
}
